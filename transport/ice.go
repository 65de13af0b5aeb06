// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/socialmux/lib/config"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) used during
	// candidate gathering. An empty list gathers host candidates only,
	// which is enough for same-machine and same-LAN peers.
	Servers []webrtc.ICEServer
}

// ICEConfigFromServers converts configuration file entries into an
// ICEConfig. Entries without URLs are skipped.
func ICEConfigFromServers(servers []config.ICEServer) ICEConfig {
	var result ICEConfig
	for _, server := range servers {
		if len(server.URLs) == 0 {
			continue
		}
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		result.Servers = append(result.Servers, entry)
	}
	return result
}
