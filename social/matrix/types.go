// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import "encoding/json"

// Event types published by socialmux clients.
const (
	// EventTypeClientState is the state event announcing a socialmux
	// client. State key: client ID.
	EventTypeClientState = "m.socialmux.client"

	// EventTypeSignal carries text from one socialmux client to another.
	EventTypeSignal = "m.socialmux.message"

	eventTypeMember   = "m.room.member"
	eventTypeMessage  = "m.room.message"
	eventTypePresence = "m.presence"
)

// ClientStateContent is the content of an EventTypeClientState event.
type ClientStateContent struct {
	Status  string `json:"status"`
	UserID  string `json:"user_id"`
	Agent   string `json:"agent,omitempty"`
	Version string `json:"version,omitempty"`
}

// SignalContent is the content of an EventTypeSignal event.
type SignalContent struct {
	// Target is the client ID the text is addressed to.
	Target string `json:"target"`
	// FromClient is the sending client's ID.
	FromClient string `json:"from_client"`
	Body       string `json:"body"`
}

// MessageContent is the content of an m.room.message text event.
type MessageContent struct {
	MsgType  string    `json:"msgtype"`
	Body     string    `json:"body"`
	Mentions *Mentions `json:"m.mentions,omitempty"`
}

// Mentions lists the users a message is addressed to.
type Mentions struct {
	UserIDs []string `json:"user_ids,omitempty"`
}

// NewTargetedTextMessage creates a text message that mentions target.
func NewTargetedTextMessage(body, target string) MessageContent {
	return MessageContent{
		MsgType:  "m.text",
		Body:     body,
		Mentions: &Mentions{UserIDs: []string{target}},
	}
}

// mentions reports whether the message mentions userID.
func (m MessageContent) mentions(userID string) bool {
	if m.Mentions == nil {
		return false
	}
	for _, mentioned := range m.Mentions.UserIDs {
		if mentioned == userID {
			return true
		}
	}
	return false
}

// memberContent is the content of an m.room.member event.
type memberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Event is a Matrix event from the server.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	StateKey       *string         `json:"state_key,omitempty"`
}

// SyncOptions controls a /sync request.
type SyncOptions struct {
	Since string // next_batch from the previous sync; empty for the initial sync
	// TimeoutMillis is the long-poll timeout. Zero returns immediately.
	TimeoutMillis int64
	Filter        string
}

// SyncResponse is the subset of the /sync response the provider reads.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Presence  PresenceSection `json:"presence"`
	Rooms     RoomsSection    `json:"rooms"`
}

// PresenceSection contains presence events.
type PresenceSection struct {
	Events []PresenceEvent `json:"events"`
}

// PresenceEvent is one m.presence event.
type PresenceEvent struct {
	Type    string               `json:"type"`
	Sender  string               `json:"sender"`
	Content PresenceEventContent `json:"content"`
}

// PresenceEventContent carries one user's presence.
type PresenceEventContent struct {
	// Presence is "online", "unavailable", or "offline".
	Presence      string `json:"presence"`
	LastActiveAgo int64  `json:"last_active_ago,omitempty"`
}

// RoomsSection contains joined-room sync data keyed by room ID.
type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join,omitempty"`
}

// JoinedRoom contains sync data for a joined room.
type JoinedRoom struct {
	State    EventList `json:"state"`
	Timeline EventList `json:"timeline"`
}

// EventList is a list of events in a sync section.
type EventList struct {
	Events []Event `json:"events"`
}

// loginRequest is the body of a password login.
type loginRequest struct {
	Type                     string         `json:"type"`
	Identifier               userIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	DeviceID                 string         `json:"device_id,omitempty"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

type userIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by a successful login.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// WhoAmIResponse is returned by /account/whoami.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// TURNServerResponse is returned by /voip/turnServer: time-limited
// credentials for the homeserver's TURN servers.
type TURNServerResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	// TTL is the credential lifetime in seconds.
	TTL int `json:"ttl"`
}

type joinResponse struct {
	RoomID string `json:"room_id"`
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}

type setPresenceRequest struct {
	Presence string `json:"presence"`
}
