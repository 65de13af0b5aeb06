// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/socialmux/lib/clock"
	"github.com/bureau-foundation/socialmux/social"
)

var _ social.Provider = (*Provider)(nil)

const (
	// syncRetryInitial and syncRetryMax bound the backoff between
	// failed /sync requests.
	syncRetryInitial = time.Second
	syncRetryMax     = 30 * time.Second

	// timelineLimit caps the events per sync. The initial sync's
	// timeline is history and is only read for state.
	timelineLimit = 50

	defaultSyncTimeout = 30 * time.Second
)

// Config configures a Provider.
type Config struct {
	// HomeserverURL is the homeserver base URL.
	HomeserverURL string

	// Username is the login localpart or user ID.
	Username string

	// RoomID is the shared socialmux room, by ID or alias.
	RoomID string

	// Password is used for password login. When empty and the login
	// request is interactive, PasswordPrompt is asked instead.
	Password       string
	PasswordPrompt func() (string, error)

	// CredentialsFile caches the access token for remembered logins.
	// Empty disables caching.
	CredentialsFile string

	// DeviceName is the display name for new devices.
	DeviceName string

	// SyncTimeout is the /sync long-poll timeout. Default: 30s.
	SyncTimeout time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Provider is a social.Provider backed by a Matrix room.
type Provider struct {
	social.Handlers

	config Config
	client *Client
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	loggingIn bool
	session   *session // nil while logged out
	clients   map[string]social.ClientState
	users     map[string]social.UserProfile
}

// session is the state of one login.
type session struct {
	userID     string
	deviceID   string
	clientID   string
	roomID     string
	filter     string
	remembered bool
	agent      string
	version    string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProvider creates a logged-out provider.
func NewProvider(config Config) (*Provider, error) {
	if config.RoomID == "" {
		return nil, fmt.Errorf("matrix: RoomID is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := NewClient(ClientConfig{
		HomeserverURL: config.HomeserverURL,
		HTTPClient:    config.HTTPClient,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaultSyncTimeout
	}
	if config.DeviceName == "" {
		config.DeviceName = "socialmux"
	}
	providerClock := config.Clock
	if providerClock == nil {
		providerClock = clock.Real()
	}
	return &Provider{
		config:  config,
		client:  client,
		clock:   providerClock,
		logger:  logger,
		clients: make(map[string]social.ClientState),
		users:   make(map[string]social.UserProfile),
	}, nil
}

// ClientID returns the local client ID, or "" while logged out.
func (p *Provider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ""
	}
	return p.session.clientID
}

// Login authenticates, joins the room, announces this client, and
// starts the sync loop. Profiles and client states from the initial
// sync are emitted before Login returns.
func (p *Provider) Login(ctx context.Context, request social.LoginRequest) (social.ClientState, error) {
	p.mu.Lock()
	if p.session != nil || p.loggingIn {
		p.mu.Unlock()
		return social.ClientState{}, social.NewError(p, social.ErrCodeLoginAlreadyOnline)
	}
	p.loggingIn = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.loggingIn = false
		p.mu.Unlock()
	}()

	userID, deviceID, err := p.authenticate(ctx, request)
	if err != nil {
		return social.ClientState{}, err
	}

	roomID, err := p.client.JoinRoom(ctx, p.config.RoomID)
	if err != nil {
		return social.ClientState{}, p.connectionError(err)
	}

	current := &session{
		userID:     userID,
		deviceID:   deviceID,
		clientID:   userID + "/" + deviceID,
		roomID:     roomID,
		filter:     syncFilter(roomID),
		remembered: request.RememberLogin,
		agent:      request.Agent,
		version:    request.Version,
		done:       make(chan struct{}),
	}

	if err := p.publishStatus(ctx, current, social.StatusOnline); err != nil {
		return social.ClientState{}, p.connectionError(err)
	}
	if err := p.client.SetPresence(ctx, userID, "online"); err != nil {
		// Presence is optional on many homeservers.
		p.logger.Debug("setting presence failed", "error", err)
	}

	initial, err := p.client.Sync(ctx, SyncOptions{Filter: current.filter})
	if err != nil {
		return social.ClientState{}, p.connectionError(err)
	}

	self := social.ClientState{
		ClientID:    current.clientID,
		UserID:      userID,
		Status:      social.StatusOnline,
		LastUpdated: p.clock.Now().UTC(),
	}

	syncContext, cancel := context.WithCancel(context.Background())
	current.cancel = cancel

	p.mu.Lock()
	p.session = current
	p.clients = map[string]social.ClientState{self.ClientID: self}
	p.users = make(map[string]social.UserProfile)
	emits := p.applySyncLocked(current, initial, true)
	p.mu.Unlock()

	p.EmitClientState(self)
	runEmits(emits)

	go p.syncLoop(syncContext, current, initial.NextBatch)

	p.logger.Info("socialmux client online",
		"client_id", current.clientID,
		"room_id", roomID,
	)
	return self, nil
}

// authenticate establishes an access token, reusing cached credentials
// when the login is remembered. Returns the user and device IDs.
func (p *Provider) authenticate(ctx context.Context, request social.LoginRequest) (string, string, error) {
	if request.RememberLogin && p.config.CredentialsFile != "" {
		cached, err := LoadCredentials(p.config.CredentialsFile)
		if err != nil {
			p.logger.Warn("ignoring unreadable credentials cache", "error", err)
		}
		if cached != nil && cached.HomeserverURL == p.config.HomeserverURL && cached.Username == p.config.Username {
			p.client.SetAccessToken(cached.AccessToken)
			identity, err := p.client.WhoAmI(ctx)
			switch {
			case err == nil:
				deviceID := cached.DeviceID
				if identity.DeviceID != "" {
					deviceID = identity.DeviceID
				}
				p.logger.Info("reusing cached matrix credentials", "user_id", identity.UserID)
				return identity.UserID, deviceID, nil
			case IsMatrixError(err, ErrCodeUnknownToken), IsMatrixError(err, ErrCodeMissingToken):
				p.logger.Info("cached access token rejected, logging in again")
				p.client.SetAccessToken("")
			default:
				p.client.SetAccessToken("")
				return "", "", p.connectionError(err)
			}
		}
	}

	password := p.config.Password
	if password == "" && request.Interactive && p.config.PasswordPrompt != nil {
		prompted, err := p.config.PasswordPrompt()
		if err != nil {
			return "", "", fmt.Errorf("matrix: reading password: %w: %w",
				social.NewError(p, social.ErrCodeLoginBadCredentials), err)
		}
		password = prompted
	}
	if password == "" {
		return "", "", fmt.Errorf("matrix: no password available for %s: %w",
			p.config.Username, social.NewError(p, social.ErrCodeLoginBadCredentials))
	}

	auth, err := p.client.Login(ctx, p.config.Username, password, "", p.config.DeviceName)
	if err != nil {
		var matrixErr *MatrixError
		if errors.As(err, &matrixErr) && (matrixErr.Code == ErrCodeForbidden ||
			matrixErr.StatusCode == http.StatusUnauthorized || matrixErr.StatusCode == http.StatusForbidden) {
			return "", "", fmt.Errorf("%w: %w", social.NewError(p, social.ErrCodeLoginBadCredentials), err)
		}
		return "", "", p.connectionError(err)
	}
	p.client.SetAccessToken(auth.AccessToken)

	if request.RememberLogin && p.config.CredentialsFile != "" {
		if err := SaveCredentials(p.config.CredentialsFile, Credentials{
			HomeserverURL: p.config.HomeserverURL,
			Username:      p.config.Username,
			UserID:        auth.UserID,
			DeviceID:      auth.DeviceID,
			AccessToken:   auth.AccessToken,
		}); err != nil {
			p.logger.Warn("caching matrix credentials failed", "error", err)
		}
	}
	return auth.UserID, auth.DeviceID, nil
}

func (p *Provider) connectionError(err error) error {
	return fmt.Errorf("%w: %w", social.NewError(p, social.ErrCodeLoginFailedConnection), err)
}

func (p *Provider) publishStatus(ctx context.Context, current *session, status social.Status) error {
	_, err := p.client.SendStateEvent(ctx, current.roomID, EventTypeClientState, current.clientID, ClientStateContent{
		Status:  string(status),
		UserID:  current.userID,
		Agent:   current.agent,
		Version: current.version,
	})
	return err
}

// syncFilter limits /sync to the socialmux room.
func syncFilter(roomID string) string {
	filter := map[string]any{
		"room": map[string]any{
			"rooms":    []string{roomID},
			"timeline": map[string]any{"limit": timelineLimit},
		},
		"account_data": map[string]any{"types": []string{}},
	}
	encoded, _ := json.Marshal(filter)
	return string(encoded)
}

// syncLoop long-polls /sync until ctx is cancelled or the access token
// is revoked.
func (p *Provider) syncLoop(ctx context.Context, current *session, since string) {
	defer close(current.done)

	backoff := syncRetryInitial
	for {
		response, err := p.client.Sync(ctx, SyncOptions{
			Since:         since,
			TimeoutMillis: p.config.SyncTimeout.Milliseconds(),
			Filter:        current.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsMatrixError(err, ErrCodeUnknownToken) {
				p.logger.Error("access token revoked, ending session", "client_id", current.clientID)
				p.endSession(current)
				return
			}
			p.logger.Warn("sync failed, retrying", "error", err, "backoff", backoff)
			p.client.CloseIdleConnections()
			select {
			case <-p.clock.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, syncRetryMax)
			continue
		}
		backoff = syncRetryInitial
		since = response.NextBatch

		p.mu.Lock()
		if p.session != current {
			p.mu.Unlock()
			return
		}
		emits := p.applySyncLocked(current, response, false)
		p.mu.Unlock()
		runEmits(emits)
	}
}

// endSession drops a session the server no longer accepts and reports
// the local client offline.
func (p *Provider) endSession(current *session) {
	p.mu.Lock()
	if p.session != current {
		p.mu.Unlock()
		return
	}
	p.session = nil
	offline := p.clients[current.clientID]
	offline.Status = social.StatusOffline
	offline.LastUpdated = p.clock.Now().UTC()
	p.clients[current.clientID] = offline
	p.mu.Unlock()

	p.client.SetAccessToken("")
	p.EmitClientState(offline)
}

func runEmits(emits []func()) {
	for _, emit := range emits {
		emit()
	}
}

// applySyncLocked folds a sync response into the provider's maps and
// returns the events to emit, in order. Must be called with p.mu held.
// Timeline messages are skipped on the initial sync; they are history.
func (p *Provider) applySyncLocked(current *session, response *SyncResponse, initial bool) []func() {
	var emits []func()
	if room, ok := response.Rooms.Join[current.roomID]; ok {
		for _, event := range room.State.Events {
			emits = p.applyStateLocked(current, event, emits)
		}
		for _, event := range room.Timeline.Events {
			if event.StateKey != nil {
				emits = p.applyStateLocked(current, event, emits)
			} else if !initial {
				emits = p.applyTimelineLocked(current, event, emits)
			}
		}
	}
	for _, event := range response.Presence.Events {
		emits = p.applyPresenceLocked(current, event, emits)
	}
	return emits
}

func (p *Provider) applyStateLocked(current *session, event Event, emits []func()) []func() {
	switch event.Type {
	case eventTypeMember:
		var content memberContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			p.logger.Debug("ignoring malformed member event", "event_id", event.EventID, "error", err)
			return emits
		}
		userID := *event.StateKey
		switch content.Membership {
		case "join":
			profile := social.UserProfile{
				UserID:      userID,
				Name:        content.DisplayName,
				URL:         "https://matrix.to/#/" + userID,
				ImageData:   content.AvatarURL,
				LastUpdated: p.eventTime(event),
			}
			if profile.Name == "" {
				profile.Name = userID
			}
			p.users[userID] = profile
			emits = append(emits, func() { p.EmitUserProfile(profile) })
		case "leave", "ban":
			for clientID, state := range p.clients {
				if state.UserID != userID || state.Status == social.StatusOffline || clientID == current.clientID {
					continue
				}
				state.Status = social.StatusOffline
				state.LastUpdated = p.eventTime(event)
				p.clients[clientID] = state
				emits = append(emits, func() { p.EmitClientState(state) })
			}
		}

	case EventTypeClientState:
		clientID := *event.StateKey
		if clientID == current.clientID {
			return emits
		}
		if !strings.HasPrefix(clientID, event.Sender+"/") {
			p.logger.Debug("ignoring client state for another user's client",
				"sender", event.Sender, "client_id", clientID)
			return emits
		}
		var content ClientStateContent
		if len(event.Content) > 0 {
			if err := json.Unmarshal(event.Content, &content); err != nil {
				p.logger.Debug("ignoring malformed client state", "event_id", event.EventID, "error", err)
				return emits
			}
		}
		status := social.StatusOffline
		if social.Status(content.Status) == social.StatusOnline {
			status = social.StatusOnline
		}
		state := social.ClientState{
			ClientID:    clientID,
			UserID:      event.Sender,
			Status:      status,
			LastUpdated: p.eventTime(event),
		}
		p.clients[clientID] = state
		emits = append(emits, func() { p.EmitClientState(state) })
	}
	return emits
}

func (p *Provider) applyPresenceLocked(current *session, event PresenceEvent, emits []func()) []func() {
	if event.Type != "" && event.Type != eventTypePresence {
		return emits
	}
	if event.Sender == "" || event.Sender == current.userID {
		return emits
	}
	status := social.StatusOffline
	switch event.Content.Presence {
	case "online", "unavailable":
		status = social.StatusOnlineWithOtherApp
	}
	if previous, ok := p.clients[event.Sender]; ok && previous.Status == status {
		return emits
	}
	state := social.ClientState{
		ClientID:    event.Sender,
		UserID:      event.Sender,
		Status:      status,
		LastUpdated: p.clock.Now().UTC().Add(-time.Duration(event.Content.LastActiveAgo) * time.Millisecond),
	}
	p.clients[event.Sender] = state
	return append(emits, func() { p.EmitClientState(state) })
}

func (p *Provider) applyTimelineLocked(current *session, event Event, emits []func()) []func() {
	switch event.Type {
	case EventTypeSignal:
		var content SignalContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			p.logger.Debug("ignoring malformed signal", "event_id", event.EventID, "error", err)
			return emits
		}
		if content.Target != current.clientID {
			return emits
		}
		if !strings.HasPrefix(content.FromClient, event.Sender+"/") {
			p.logger.Warn("ignoring signal with forged sender",
				"sender", event.Sender, "from_client", content.FromClient)
			return emits
		}
		var from social.ClientState
		from, emits = p.refreshSenderLocked(content.FromClient, event, social.StatusOnline, emits)
		message := social.Message{From: from, Text: content.Body}
		return append(emits, func() { p.EmitMessage(message) })

	case eventTypeMessage:
		if event.Sender == current.userID {
			return emits
		}
		var content MessageContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return emits
		}
		if content.MsgType != "m.text" || !content.mentions(current.userID) {
			return emits
		}
		var from social.ClientState
		from, emits = p.refreshSenderLocked(event.Sender, event, social.StatusOnlineWithOtherApp, emits)
		message := social.Message{From: from, Text: content.Body}
		return append(emits, func() { p.EmitMessage(message) })
	}
	return emits
}

// refreshSenderLocked returns the state of a message's sending client.
// A client that sends a message is online: if it was unknown or
// offline it is recorded with status and a state update is emitted
// ahead of the message.
func (p *Provider) refreshSenderLocked(clientID string, event Event, status social.Status, emits []func()) (social.ClientState, []func()) {
	state, ok := p.clients[clientID]
	if ok && state.Status != social.StatusOffline {
		return state, emits
	}
	state = social.ClientState{
		ClientID:    clientID,
		UserID:      event.Sender,
		Status:      status,
		LastUpdated: p.eventTime(event),
	}
	p.clients[clientID] = state
	return state, append(emits, func() { p.EmitClientState(state) })
}

func (p *Provider) eventTime(event Event) time.Time {
	if event.OriginServerTS > 0 {
		return time.UnixMilli(event.OriginServerTS).UTC()
	}
	return p.clock.Now().UTC()
}

// SendMessage delivers text to a client: an m.socialmux.message event
// for socialmux clients, a text message mentioning the user for
// clients on other apps.
func (p *Provider) SendMessage(ctx context.Context, clientID, text string) error {
	p.mu.Lock()
	current := p.session
	target, known := p.clients[clientID]
	p.mu.Unlock()

	if current == nil {
		return social.NewError(p, social.ErrCodeOffline)
	}
	if !known {
		return social.NewError(p, social.ErrCodeSendInvalidDestination)
	}

	var err error
	switch target.Status {
	case social.StatusOffline:
		return social.NewError(p, social.ErrCodeOffline)
	case social.StatusOnlineWithOtherApp:
		_, err = p.client.SendEvent(ctx, current.roomID, eventTypeMessage,
			NewTargetedTextMessage(text, target.UserID))
	default:
		_, err = p.client.SendEvent(ctx, current.roomID, EventTypeSignal, SignalContent{
			Target:     clientID,
			FromClient: current.clientID,
			Body:       text,
		})
	}
	if err != nil {
		return fmt.Errorf("matrix: sending to %s: %w", clientID, err)
	}
	return nil
}

// Logout announces this client offline, stops the sync loop, and
// invalidates the access token unless the login was remembered.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	current := p.session
	p.session = nil
	p.mu.Unlock()
	if current == nil {
		return social.NewError(p, social.ErrCodeOffline)
	}

	current.cancel()
	<-current.done

	var errs []error
	if err := p.publishStatus(ctx, current, social.StatusOffline); err != nil {
		errs = append(errs, err)
	}
	if err := p.client.SetPresence(ctx, current.userID, "offline"); err != nil {
		p.logger.Debug("setting presence failed", "error", err)
	}
	if !current.remembered {
		if err := p.client.Logout(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.client.SetAccessToken("")

	offline := social.ClientState{
		ClientID:    current.clientID,
		UserID:      current.userID,
		Status:      social.StatusOffline,
		LastUpdated: p.clock.Now().UTC(),
	}
	p.mu.Lock()
	p.clients = map[string]social.ClientState{offline.ClientID: offline}
	p.users = make(map[string]social.UserProfile)
	p.mu.Unlock()
	p.EmitClientState(offline)

	p.logger.Info("socialmux client offline", "client_id", current.clientID)
	return errors.Join(errs...)
}

// ClearCachedCredentials deletes the credentials cache.
func (p *Provider) ClearCachedCredentials(_ context.Context) error {
	if p.config.CredentialsFile == "" {
		return nil
	}
	return RemoveCredentials(p.config.CredentialsFile)
}

// GetClients returns the last-known state of every client.
func (p *Provider) GetClients(_ context.Context) (map[string]social.ClientState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]social.ClientState, len(p.clients))
	for id, state := range p.clients {
		result[id] = state
	}
	return result, nil
}

// GetUsers returns the last-known profile of every room member.
func (p *Provider) GetUsers(_ context.Context) (map[string]social.UserProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]social.UserProfile, len(p.users))
	for id, profile := range p.users {
		result[id] = profile
	}
	return result, nil
}

// TURNServer returns the homeserver's TURN credentials. Requires a
// logged-in session.
func (p *Provider) TURNServer(ctx context.Context) (*TURNServerResponse, error) {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()
	if current == nil {
		return nil, social.NewError(p, social.ErrCodeOffline)
	}
	return p.client.TURNServer(ctx)
}

// ErrorMessage describes code in Matrix terms.
func (p *Provider) ErrorMessage(code social.ErrorCode) string {
	switch code {
	case social.ErrCodeLoginBadCredentials:
		return "The Matrix homeserver rejected the username or password"
	case social.ErrCodeLoginFailedConnection:
		return "Could not reach the Matrix homeserver"
	}
	return social.DefaultErrorMessage(code)
}
