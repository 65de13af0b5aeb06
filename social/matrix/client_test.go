// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:6167/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client.baseURL != "http://localhost:6167" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{HomeserverURL: "://invalid"}); err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestSendEventUsesFreshTransactionIDs(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", request.Method)
		}
		if request.Header.Get("Authorization") != "Bearer syt_token" {
			t.Errorf("unexpected authorization: %q", request.Header.Get("Authorization"))
		}
		paths = append(paths, request.URL.EscapedPath())
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(sendEventResponse{EventID: "$abc"})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.SetAccessToken("syt_token")

	for range 2 {
		eventID, err := client.SendEvent(context.Background(), "!room:test", EventTypeSignal, SignalContent{Body: "x"})
		if err != nil {
			t.Fatalf("SendEvent failed: %v", err)
		}
		if eventID != "$abc" {
			t.Errorf("unexpected event ID: %s", eventID)
		}
	}

	if len(paths) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(paths))
	}
	prefix := "/_matrix/client/v3/rooms/%21room:test/send/m.socialmux.message/"
	for _, path := range paths {
		if !strings.HasPrefix(path, prefix) {
			t.Errorf("unexpected path: %s", path)
		}
	}
	if paths[0] == paths[1] {
		t.Errorf("transaction ID reused: %s", paths[0])
	}
}

func TestSyncQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("since") != "s42" {
			t.Errorf("unexpected since: %q", query.Get("since"))
		}
		if query.Get("timeout") != "30000" {
			t.Errorf("unexpected timeout: %q", query.Get("timeout"))
		}
		if query.Get("filter") != `{"room":{}}` {
			t.Errorf("unexpected filter: %q", query.Get("filter"))
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SyncResponse{NextBatch: "s43"})
	}))
	defer server.Close()

	client, _ := NewClient(ClientConfig{HomeserverURL: server.URL})
	response, err := client.Sync(context.Background(), SyncOptions{
		Since:         "s42",
		TimeoutMillis: 30000,
		Filter:        `{"room":{}}`,
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "s43" {
		t.Errorf("unexpected next_batch: %s", response.NextBatch)
	}
}

func TestErrorResponses(t *testing.T) {
	t.Run("matrix error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeLimitExceeded, Message: "Too many requests"})
		}))
		defer server.Close()

		client, _ := NewClient(ClientConfig{HomeserverURL: server.URL})
		_, err := client.WhoAmI(context.Background())
		if !IsMatrixError(err, ErrCodeLimitExceeded) {
			t.Fatalf("expected M_LIMIT_EXCEEDED, got: %v", err)
		}
	})

	t.Run("non-matrix error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusBadGateway)
			writer.Write([]byte("upstream unavailable"))
		}))
		defer server.Close()

		client, _ := NewClient(ClientConfig{HomeserverURL: server.URL})
		_, err := client.WhoAmI(context.Background())
		if err == nil {
			t.Fatal("expected error for 502")
		}
		if IsMatrixError(err, ErrCodeUnknown) {
			t.Error("plain-text error body should not parse as a MatrixError")
		}
		if !strings.Contains(err.Error(), "upstream unavailable") {
			t.Errorf("error should include the response body: %v", err)
		}
	})
}

func TestMatrixError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := &MatrixError{Code: ErrCodeForbidden, Message: "Access denied", StatusCode: 403}
		expected := "matrix: M_FORBIDDEN (403): Access denied"
		if err.Error() != expected {
			t.Errorf("unexpected error message: %s", err.Error())
		}
	})

	t.Run("non-matrix error returns false", func(t *testing.T) {
		if IsMatrixError(context.Canceled, ErrCodeNotFound) {
			t.Error("IsMatrixError should return false for non-matrix errors")
		}
	})
}
