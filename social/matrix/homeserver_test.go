// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeHomeserver implements the Client-Server endpoints the provider
// uses, for a single account in a single room.
type fakeHomeserver struct {
	t      *testing.T
	server *httptest.Server
	done   chan struct{}

	password string
	userID   string
	deviceID string
	token    string
	roomID   string

	// syncs feeds incremental /sync responses. An incremental /sync
	// blocks until a reply is queued or the request is cancelled.
	syncs chan syncReply

	mu          sync.Mutex
	initialSync SyncResponse
	loginCount  int
	whoamiCount int
	logoutCount int
	syncCount   int
	stateEvents []recordedEvent
	sentEvents  []recordedEvent
	presence    []string
}

type recordedEvent struct {
	Type     string
	StateKey string
	Content  json.RawMessage
}

// syncReply is one queued /sync outcome: a response, or an error status
// with a Matrix error code.
type syncReply struct {
	status   int
	errcode  string
	response SyncResponse
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{
		t:        t,
		done:     make(chan struct{}),
		password: "hunter2",
		userID:   "@alice:test",
		deviceID: "DEV1",
		token:    "token-1",
		roomID:   "!room:test",
		syncs:    make(chan syncReply, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /_matrix/client/v3/login", hs.handleLogin)
	mux.HandleFunc("GET /_matrix/client/v3/account/whoami", hs.handleWhoAmI)
	mux.HandleFunc("POST /_matrix/client/v3/join/{room}", hs.handleJoin)
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/state/{type}/{key}", hs.handleState)
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", hs.handleSend)
	mux.HandleFunc("PUT /_matrix/client/v3/presence/{user}/status", hs.handlePresence)
	mux.HandleFunc("GET /_matrix/client/v3/sync", hs.handleSync)
	mux.HandleFunc("POST /_matrix/client/v3/logout", hs.handleLogout)
	mux.HandleFunc("GET /_matrix/client/v3/voip/turnServer", hs.handleTURN)

	hs.server = httptest.NewServer(mux)
	t.Cleanup(hs.server.Close)
	// Registered after server.Close so it runs first, releasing any
	// blocked long-poll before the server waits for handlers.
	t.Cleanup(func() { close(hs.done) })
	return hs
}

func (hs *fakeHomeserver) URL() string { return hs.server.URL }

func (hs *fakeHomeserver) setInitialSync(response SyncResponse) {
	hs.mu.Lock()
	hs.initialSync = response
	hs.mu.Unlock()
}

func (hs *fakeHomeserver) counts() (login, whoami, logout int) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.loginCount, hs.whoamiCount, hs.logoutCount
}

func (hs *fakeHomeserver) lastStateEvent() recordedEvent {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if len(hs.stateEvents) == 0 {
		hs.t.Fatal("no state events recorded")
	}
	return hs.stateEvents[len(hs.stateEvents)-1]
}

func (hs *fakeHomeserver) lastSentEvent() recordedEvent {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if len(hs.sentEvents) == 0 {
		hs.t.Fatal("no events sent")
	}
	return hs.sentEvents[len(hs.sentEvents)-1]
}

func (hs *fakeHomeserver) sentCount() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.sentEvents)
}

func (hs *fakeHomeserver) presenceHistory() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]string(nil), hs.presence...)
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(body)
}

func writeMatrixError(writer http.ResponseWriter, status int, code, message string) {
	writeJSON(writer, status, map[string]string{"errcode": code, "error": message})
}

// authorized checks the bearer token, writing a 401 if it is wrong.
func (hs *fakeHomeserver) authorized(writer http.ResponseWriter, request *http.Request) bool {
	if request.Header.Get("Authorization") != "Bearer "+hs.token {
		writeMatrixError(writer, http.StatusUnauthorized, ErrCodeUnknownToken, "Unknown access token")
		return false
	}
	return true
}

func (hs *fakeHomeserver) handleLogin(writer http.ResponseWriter, request *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeMatrixError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	if body.Type != "m.login.password" || body.Identifier.User != "alice" || body.Password != hs.password {
		writeMatrixError(writer, http.StatusForbidden, ErrCodeForbidden, "Invalid username or password")
		return
	}
	hs.mu.Lock()
	hs.loginCount++
	hs.mu.Unlock()
	writeJSON(writer, http.StatusOK, AuthResponse{UserID: hs.userID, AccessToken: hs.token, DeviceID: hs.deviceID})
}

func (hs *fakeHomeserver) handleWhoAmI(writer http.ResponseWriter, request *http.Request) {
	hs.mu.Lock()
	hs.whoamiCount++
	hs.mu.Unlock()
	if !hs.authorized(writer, request) {
		return
	}
	writeJSON(writer, http.StatusOK, WhoAmIResponse{UserID: hs.userID, DeviceID: hs.deviceID})
}

func (hs *fakeHomeserver) handleJoin(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	writeJSON(writer, http.StatusOK, joinResponse{RoomID: hs.roomID})
}

func (hs *fakeHomeserver) handleState(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	if request.PathValue("room") != hs.roomID {
		writeMatrixError(writer, http.StatusNotFound, ErrCodeNotFound, "Unknown room")
		return
	}
	var content json.RawMessage
	json.NewDecoder(request.Body).Decode(&content)
	hs.mu.Lock()
	hs.stateEvents = append(hs.stateEvents, recordedEvent{
		Type:     request.PathValue("type"),
		StateKey: request.PathValue("key"),
		Content:  content,
	})
	count := len(hs.stateEvents)
	hs.mu.Unlock()
	writeJSON(writer, http.StatusOK, sendEventResponse{EventID: fmt.Sprintf("$state%d", count)})
}

func (hs *fakeHomeserver) handleSend(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	if request.PathValue("room") != hs.roomID {
		writeMatrixError(writer, http.StatusNotFound, ErrCodeNotFound, "Unknown room")
		return
	}
	var content json.RawMessage
	json.NewDecoder(request.Body).Decode(&content)
	hs.mu.Lock()
	hs.sentEvents = append(hs.sentEvents, recordedEvent{Type: request.PathValue("type"), Content: content})
	count := len(hs.sentEvents)
	hs.mu.Unlock()
	writeJSON(writer, http.StatusOK, sendEventResponse{EventID: fmt.Sprintf("$event%d", count)})
}

func (hs *fakeHomeserver) handlePresence(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	var body setPresenceRequest
	json.NewDecoder(request.Body).Decode(&body)
	hs.mu.Lock()
	hs.presence = append(hs.presence, body.Presence)
	hs.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]any{})
}

func (hs *fakeHomeserver) handleSync(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	hs.mu.Lock()
	hs.syncCount++
	count := hs.syncCount
	initial := hs.initialSync
	hs.mu.Unlock()

	if request.URL.Query().Get("since") == "" {
		if initial.NextBatch == "" {
			initial.NextBatch = "s0"
		}
		writeJSON(writer, http.StatusOK, initial)
		return
	}

	select {
	case reply := <-hs.syncs:
		if reply.status != 0 {
			writeMatrixError(writer, reply.status, reply.errcode, "simulated failure")
			return
		}
		if reply.response.NextBatch == "" {
			reply.response.NextBatch = fmt.Sprintf("s%d", count)
		}
		writeJSON(writer, http.StatusOK, reply.response)
	case <-request.Context().Done():
	case <-hs.done:
	}
}

func (hs *fakeHomeserver) handleLogout(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	hs.mu.Lock()
	hs.logoutCount++
	hs.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]any{})
}

func (hs *fakeHomeserver) handleTURN(writer http.ResponseWriter, request *http.Request) {
	if !hs.authorized(writer, request) {
		return
	}
	writeJSON(writer, http.StatusOK, TURNServerResponse{
		Username: "1700000000:alice",
		Password: "turn-secret",
		URIs:     []string{"turn:turn.test:3478?transport=udp"},
		TTL:      86400,
	})
}

// stateEvent builds a state event with JSON content.
func stateEvent(t *testing.T, eventType, sender, stateKey string, content any) Event {
	t.Helper()
	event := timelineEvent(t, eventType, sender, content)
	event.StateKey = &stateKey
	return event
}

var eventCounter int

func timelineEvent(t *testing.T, eventType, sender string, content any) Event {
	t.Helper()
	encoded, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("encoding event content: %v", err)
	}
	eventCounter++
	return Event{
		EventID:        fmt.Sprintf("$test%d", eventCounter),
		Type:           eventType,
		Sender:         sender,
		OriginServerTS: 1767225600000 + int64(eventCounter),
		Content:        encoded,
	}
}

func roomSync(roomID string, state, timeline []Event) SyncResponse {
	return SyncResponse{Rooms: RoomsSection{Join: map[string]JoinedRoom{
		roomID: {State: EventList{Events: state}, Timeline: EventList{Events: timeline}},
	}}}
}
