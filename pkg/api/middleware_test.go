package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit_ChatCreate(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	h := s.Handler()

	status := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set(headerToken, token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < chatCreatePerMinute; i++ {
		require.Equal(t, http.StatusCreated, status(""), "request %d within the limit", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, status(""))

	// A different credential gets its own bucket.
	assert.Equal(t, http.StatusCreated, status("other-token"))
}

func TestCredentials_HeaderOverridesDefault(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerToken, "chat-token")
	req.Header.Set(headerBaseURL, "https://eu.example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ChatID string `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	state := s.registry.Get(resp.ChatID)
	require.NotNil(t, state)
	creds := state.Credentials()
	assert.Equal(t, "chat-token", creds.Token)
	assert.Equal(t, "https://eu.example.com", creds.BaseURL)
}
