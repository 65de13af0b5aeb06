// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/lib/codec"
	"github.com/bureau-foundation/socialmux/lib/netutil"
)

// iceGatherTimeout is the maximum time to wait for ICE candidate gathering
// to complete. Vanilla ICE requires all candidates before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// dataChannelLabel names the single data channel each session uses.
const dataChannelLabel = "data"

// ChannelBinder binds the far endpoint of a signaling channel.
// *channel.Runtime implements it.
type ChannelBinder interface {
	Bind(identifier string) (*channel.Endpoint, error)
}

var _ ChannelBinder = (*channel.Runtime)(nil)

// WebRTCConfig configures a WebRTCProvider.
type WebRTCConfig struct {
	// Channels resolves the signaling channel identifier passed to
	// Transport.Setup.
	Channels ChannelBinder

	// ICE is the initial ICE server configuration.
	ICE ICEConfig

	// CompressThreshold is the payload size above which frames are
	// zstd-compressed. Zero or negative disables compression.
	CompressThreshold int

	Logger *slog.Logger
}

// WebRTCProvider creates WebRTC-backed transports. Its NewTransport
// method is a Factory.
type WebRTCProvider struct {
	channels          ChannelBinder
	compressThreshold int
	logger            *slog.Logger

	// configMu protects iceConfig, which can be replaced at runtime
	// when TURN credentials rotate.
	configMu  sync.RWMutex
	iceConfig ICEConfig
}

// NewWebRTCProvider creates a provider.
func NewWebRTCProvider(config WebRTCConfig) *WebRTCProvider {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCProvider{
		channels:          config.Channels,
		compressThreshold: config.CompressThreshold,
		logger:            logger,
		iceConfig:         config.ICE,
	}
}

// UpdateICEConfig replaces the ICE configuration used by connections
// created after the call. Existing connections are unaffected.
func (p *WebRTCProvider) UpdateICEConfig(config ICEConfig) {
	p.configMu.Lock()
	p.iceConfig = config
	p.configMu.Unlock()
}

// NewTransport returns a new, un-setup transport.
func (p *WebRTCProvider) NewTransport() (Transport, error) {
	if p.channels == nil {
		return nil, errors.New("transport: WebRTC provider has no channel binder")
	}
	return &webrtcTransport{
		provider:  p,
		logger:    p.logger,
		setupDone: make(chan struct{}),
		closed:    make(chan struct{}),
	}, nil
}

// newPeerConnection creates a pion PeerConnection with the current ICE config.
func (p *WebRTCProvider) newPeerConnection() (*webrtc.PeerConnection, error) {
	p.configMu.RLock()
	config := webrtc.Configuration{
		ICEServers: p.iceConfig.Servers,
	}
	p.configMu.RUnlock()

	// Detached data channels give plain ReadWriteCloser access. Loopback
	// candidates let peers on the same machine (and tests) connect.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// link is one PeerConnection attempt within a transport. A transport
// replaces its link when it loses an offer race or when the peer
// restarts negotiation.
type link struct {
	connection *webrtc.PeerConnection

	// offering is true from creating a local offer until the answer is
	// applied. published is set once the offer has been emitted; only
	// then can an answer belong to it. Both protected by
	// webrtcTransport.mu.
	offering   bool
	published  bool
	tiebreaker uint64

	// open is closed once the data channel is detached and conn and
	// encoder are set. done is closed when the link is dropped.
	open    chan struct{}
	done    chan struct{}
	conn    *DataChannelConn
	encoder *codec.Encoder
}

func newLink(connection *webrtc.PeerConnection, offering bool) *link {
	return &link{
		connection: connection,
		offering:   offering,
		tiebreaker: rand.Uint64(),
		open:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// close releases the link's resources. Must be called at most once,
// without webrtcTransport.mu held.
func (l *link) close() {
	close(l.done)
	if l.conn != nil {
		l.conn.Close()
	}
	l.connection.Close()
}

// webrtcTransport is the Transport for one peer.
type webrtcTransport struct {
	provider *WebRTCProvider
	logger   *slog.Logger

	mu            sync.Mutex
	peerID        string
	endpoint      *channel.Endpoint
	current       *link
	dataHandlers  []func(tag string, data []byte)
	closeHandlers []func()

	// writeMu serializes frame writes on the data channel.
	writeMu sync.Mutex

	setupDone chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*webrtcTransport)(nil)

func (t *webrtcTransport) OnData(handler func(tag string, data []byte)) {
	t.mu.Lock()
	t.dataHandlers = append(t.dataHandlers, handler)
	t.mu.Unlock()
}

func (t *webrtcTransport) OnClose(handler func()) {
	t.mu.Lock()
	t.closeHandlers = append(t.closeHandlers, handler)
	t.mu.Unlock()
}

func (t *webrtcTransport) Setup(ctx context.Context, peerID, channelIdentifier string) error {
	select {
	case <-t.closed:
		return fmt.Errorf("transport: setting up session with %s: %w", peerID, net.ErrClosed)
	default:
	}

	t.mu.Lock()
	if t.endpoint != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: session with %s is already set up", t.peerID)
	}
	endpoint, err := t.provider.channels.Bind(channelIdentifier)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: binding signaling channel for %s: %w", peerID, err)
	}
	t.peerID = peerID
	t.endpoint = endpoint
	t.logger = t.provider.logger.With("peer", peerID)
	logger := t.logger
	t.mu.Unlock()

	endpoint.OnMessage(t.handleSignal)
	close(t.setupDone)

	logger.Debug("WebRTC session set up", "channel", channelIdentifier)
	return nil
}

func (t *webrtcTransport) Send(ctx context.Context, tag string, data []byte) error {
	select {
	case <-t.setupDone:
	case <-t.closed:
		return fmt.Errorf("transport: sending %q: %w", tag, net.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		current, err := t.ensureLink(ctx)
		if err != nil {
			return err
		}
		select {
		case <-current.open:
			return t.writeFrame(current, newFrame(tag, data, t.provider.compressThreshold))
		case <-current.done:
			// Replaced by the peer's offer; wait on the new link.
			continue
		case <-t.closed:
			return fmt.Errorf("transport: sending %q: %w", tag, net.ErrClosed)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *webrtcTransport) writeFrame(current *link, f frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := current.encoder.Encode(f); err != nil {
		return fmt.Errorf("transport: sending %q frame to %s: %w", f.Tag, t.peerID, err)
	}
	return nil
}

// ensureLink returns the current link, creating and offering a new one
// if there is none.
func (t *webrtcTransport) ensureLink(ctx context.Context) (*link, error) {
	t.mu.Lock()
	if t.current != nil {
		current := t.current
		t.mu.Unlock()
		return current, nil
	}
	t.mu.Unlock()

	pc, err := t.provider.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("transport: creating PeerConnection: %w", err)
	}
	offered := newLink(pc, true)

	t.mu.Lock()
	if t.current != nil {
		// Another Send or an inbound offer got there first.
		current := t.current
		t.mu.Unlock()
		pc.Close()
		return current, nil
	}
	t.current = offered
	t.mu.Unlock()

	offerErr := t.offer(ctx, offered)

	// An inbound offer may have replaced this link while gathering, in
	// which case the replacement is the link to use.
	t.mu.Lock()
	current := t.current
	t.mu.Unlock()
	if current != nil && current != offered {
		return current, nil
	}
	if offerErr != nil {
		t.dropLink(offered)
		return nil, fmt.Errorf("transport: offering session to %s: %w", t.peerID, offerErr)
	}
	if current == nil {
		return nil, fmt.Errorf("transport: offering session to %s: %w", t.peerID, net.ErrClosed)
	}
	return current, nil
}

// offer creates the data channel and publishes a complete SDP offer.
func (t *webrtcTransport) offer(ctx context.Context, offered *link) error {
	pc := offered.connection
	t.watchConnection(offered)

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	t.attachDataChannel(offered, dc)

	description, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := t.waitForGathering(ctx, offered, gatherComplete); err != nil {
		return err
	}

	// published is set before emitting: the answer can arrive on the
	// signal goroutine before Emit returns.
	t.mu.Lock()
	stale := t.current != offered
	if !stale {
		offered.published = true
	}
	t.mu.Unlock()
	if stale {
		return nil
	}

	if err := t.emitSignal(signal{
		Type:       signalOffer,
		SDP:        pc.LocalDescription().SDP,
		Tiebreaker: offered.tiebreaker,
	}); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	t.logger.Debug("WebRTC offer published")
	return nil
}

// handleSignal processes one message from the signaling channel. Runs
// on the endpoint's delivery goroutine, so signals are handled in order.
func (t *webrtcTransport) handleSignal(text string) {
	select {
	case <-t.closed:
		return
	default:
	}

	received, err := decodeSignal(text)
	if err != nil {
		t.logger.Warn("ignoring malformed signal", "error", err)
		return
	}
	switch received.Type {
	case signalOffer:
		if err := t.answer(received); err != nil {
			t.logger.Error("answering WebRTC offer failed", "error", err)
		}
	case signalAnswer:
		if err := t.applyAnswer(received); err != nil {
			t.logger.Error("applying WebRTC answer failed", "error", err)
		}
	}
}

// answer accepts a remote offer, replacing any current link unless the
// current link is a local offer that wins the glare tie-break.
func (t *webrtcTransport) answer(remote signal) error {
	pc, err := t.provider.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}
	answered := newLink(pc, false)

	t.mu.Lock()
	previous := t.current
	if previous != nil && previous.offering && winsGlare(previous.tiebreaker, localSDP(previous), remote) {
		t.mu.Unlock()
		pc.Close()
		t.logger.Debug("ignoring remote offer, local offer wins tie-break")
		return nil
	}
	t.current = answered
	t.mu.Unlock()

	if previous != nil {
		t.logger.Debug("replacing WebRTC connection with remote offer")
		previous.close()
	}

	t.watchConnection(answered)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			t.logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			dc.Close()
			return
		}
		t.attachDataChannel(answered, dc)
	})

	if err := t.completeAnswer(answered, remote.SDP); err != nil {
		t.dropLink(answered)
		return err
	}
	t.logger.Debug("WebRTC answer published")
	return nil
}

// localSDP returns the link's local description, or "" before one is set.
func localSDP(l *link) string {
	description := l.connection.LocalDescription()
	if description == nil {
		return ""
	}
	return description.SDP
}

func (t *webrtcTransport) completeAnswer(answered *link, offerSDP string) error {
	pc := answered.connection
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	description, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := t.waitForGathering(context.Background(), answered, gatherComplete); err != nil {
		return err
	}
	if err := t.emitSignal(signal{Type: signalAnswer, SDP: pc.LocalDescription().SDP}); err != nil {
		return fmt.Errorf("publishing SDP answer: %w", err)
	}
	return nil
}

// applyAnswer completes the current link's offer. Answers that do not
// match a published local offer are stale and ignored. An answer the
// connection rejects leaves the offer pending, so a later genuine
// answer can still complete it.
func (t *webrtcTransport) applyAnswer(remote signal) error {
	description := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remote.SDP}
	parsed, err := description.Unmarshal()
	if err != nil {
		t.logger.Warn("ignoring answer with unparseable SDP", "error", err)
		return nil
	}
	if len(parsed.MediaDescriptions) == 0 {
		t.logger.Warn("ignoring answer without media sections")
		return nil
	}

	t.mu.Lock()
	current := t.current
	if current == nil || !current.offering || !current.published {
		t.mu.Unlock()
		t.logger.Debug("ignoring answer with no published offer")
		return nil
	}
	current.offering = false
	t.mu.Unlock()

	if err := current.connection.SetRemoteDescription(description); err != nil {
		t.mu.Lock()
		if t.current == current {
			current.offering = true
		}
		t.mu.Unlock()
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (t *webrtcTransport) waitForGathering(ctx context.Context, current *link, gatherComplete <-chan struct{}) error {
	select {
	case <-gatherComplete:
		return nil
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-current.done:
		return net.ErrClosed
	case <-t.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *webrtcTransport) emitSignal(s signal) error {
	text, err := encodeSignal(s)
	if err != nil {
		return err
	}
	t.mu.Lock()
	endpoint := t.endpoint
	t.mu.Unlock()
	return endpoint.Emit(text)
}

// watchConnection closes the transport when the link's ICE connection
// fails or closes while the link is current.
func (t *webrtcTransport) watchConnection(watched *link) {
	watched.connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debug("ICE connection state changed", "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			if t.isCurrent(watched) {
				t.logger.Info("WebRTC connection lost", "state", state.String())
				t.Close()
			}
		}
	})
}

// attachDataChannel detaches dc once it opens and starts the read loop.
func (t *webrtcTransport) attachDataChannel(owner *link, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			t.logger.Error("detaching data channel failed", "error", err)
			if t.isCurrent(owner) {
				t.Close()
			}
			return
		}
		conn := NewDataChannelConn(raw, "local/"+dc.Label(), t.peerID+"/"+dc.Label())

		t.mu.Lock()
		if t.current != owner {
			t.mu.Unlock()
			conn.Close()
			return
		}
		owner.conn = conn
		owner.encoder = codec.NewEncoder(conn)
		close(owner.open)
		t.mu.Unlock()

		t.logger.Info("WebRTC data channel open")
		go t.readLoop(owner)
	})
}

func (t *webrtcTransport) readLoop(owner *link) {
	decoder := codec.NewDecoder(owner.conn)
	for {
		var received frame
		if err := decoder.Decode(&received); err != nil {
			if !t.isCurrent(owner) {
				return
			}
			if netutil.IsExpectedCloseError(err) {
				t.logger.Debug("data channel closed by peer")
			} else {
				t.logger.Warn("reading data channel failed", "error", err)
			}
			t.Close()
			return
		}

		data, err := received.payload()
		if err != nil {
			t.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		t.mu.Lock()
		handlers := t.dataHandlers
		t.mu.Unlock()
		for _, handler := range handlers {
			handler(received.Tag, data)
		}
	}
}

func (t *webrtcTransport) isCurrent(candidate *link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current == candidate
}

// dropLink closes l and clears it if it is still current.
func (t *webrtcTransport) dropLink(dropped *link) {
	t.mu.Lock()
	if t.current != dropped {
		t.mu.Unlock()
		return
	}
	t.current = nil
	t.mu.Unlock()
	dropped.close()
}

func (t *webrtcTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)

		t.mu.Lock()
		current := t.current
		t.current = nil
		handlers := t.closeHandlers
		logger := t.logger
		t.mu.Unlock()

		if current != nil {
			current.close()
		}
		logger.Debug("WebRTC session closed")
		for _, handler := range handlers {
			handler()
		}
	})
	return nil
}
