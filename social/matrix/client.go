// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/socialmux/lib/netutil"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver (e.g., "http://localhost:6167").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a Matrix Client-Server API client for one account.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.RWMutex
	accessToken string
}

// NewClient creates a client with no access token.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	// Request URLs are built by concatenating onto the trimmed string
	// form; parsing only validates it.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SetAccessToken sets the token sent with authenticated requests. An
// empty token clears it.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// CloseIdleConnections closes idle pooled connections, forcing fresh
// TCP connections after a network disruption.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Login authenticates with a password. deviceID reuses an existing
// device when non-empty. Does not store the returned token; callers
// pass it to SetAccessToken.
func (c *Client) Login(ctx context.Context, username, password, deviceID, deviceName string) (*AuthResponse, error) {
	if username == "" {
		return nil, fmt.Errorf("matrix: username is required for login")
	}
	request := loginRequest{
		Type:                     "m.login.password",
		Identifier:               userIdentifier{Type: "m.id.user", User: username},
		Password:                 password,
		DeviceID:                 deviceID,
		InitialDeviceDisplayName: deviceName,
	}

	var response AuthResponse
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/login", false, request, nil, &response); err != nil {
		return nil, fmt.Errorf("matrix: login failed: %w", err)
	}
	c.logger.Info("logged in to matrix",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return &response, nil
}

// WhoAmI returns the identity behind the current access token.
func (c *Client) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	var response WhoAmIResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", true, nil, nil, &response); err != nil {
		return nil, fmt.Errorf("matrix: whoami failed: %w", err)
	}
	return &response, nil
}

// JoinRoom joins a room by ID or alias and returns the room ID. Joining
// a room the user is already in succeeds.
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	var response joinResponse
	if err := c.do(ctx, http.MethodPost, path, true, map[string]any{}, nil, &response); err != nil {
		return "", fmt.Errorf("matrix: joining %q failed: %w", roomIDOrAlias, err)
	}
	return response.RoomID, nil
}

// Sync performs one /sync request.
func (c *Client) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	query.Set("timeout", strconv.FormatInt(options.TimeoutMillis, 10))
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	var response SyncResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", true, nil, query, &response); err != nil {
		return nil, fmt.Errorf("matrix: sync failed: %w", err)
	}
	return &response, nil
}

// SendEvent sends a timeline event to a room and returns its event ID.
// Each call uses a fresh transaction ID.
func (c *Client) SendEvent(ctx context.Context, roomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(uuid.NewString()),
	)
	var response sendEventResponse
	if err := c.do(ctx, http.MethodPut, path, true, content, nil, &response); err != nil {
		return "", fmt.Errorf("matrix: sending %s to %q failed: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// SendStateEvent sets a state event in a room and returns its event ID.
func (c *Client) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)
	var response sendEventResponse
	if err := c.do(ctx, http.MethodPut, path, true, content, nil, &response); err != nil {
		return "", fmt.Errorf("matrix: setting %s/%s in %q failed: %w", eventType, stateKey, roomID, err)
	}
	return response.EventID, nil
}

// SetPresence sets the user's presence ("online", "unavailable", "offline").
func (c *Client) SetPresence(ctx context.Context, userID, presence string) error {
	path := "/_matrix/client/v3/presence/" + url.PathEscape(userID) + "/status"
	if err := c.do(ctx, http.MethodPut, path, true, setPresenceRequest{Presence: presence}, nil, nil); err != nil {
		return fmt.Errorf("matrix: setting presence failed: %w", err)
	}
	return nil
}

// TURNServer returns the homeserver's TURN credentials.
func (c *Client) TURNServer(ctx context.Context) (*TURNServerResponse, error) {
	var response TURNServerResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/voip/turnServer", true, nil, nil, &response); err != nil {
		return nil, fmt.Errorf("matrix: fetching TURN credentials failed: %w", err)
	}
	return &response, nil
}

// Logout invalidates the current access token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/logout", true, map[string]any{}, nil, nil); err != nil {
		return fmt.Errorf("matrix: logout failed: %w", err)
	}
	return nil
}

// do performs a request and decodes a 2xx JSON response into result
// (skipped when result is nil). Non-2xx responses return *MatrixError.
func (c *Client) do(ctx context.Context, method, path string, authenticated bool, requestBody any, query url.Values, result any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if token := c.token(); token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var matrixErr MatrixError
		if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
			return fmt.Errorf("unexpected %d response from %s %s: %s",
				response.StatusCode, method, path, string(responseBody))
		}
		matrixErr.StatusCode = response.StatusCode
		return &matrixErr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, result); err != nil {
		return fmt.Errorf("parsing response from %s %s: %w", method, path, err)
	}
	return nil
}
