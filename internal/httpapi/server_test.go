package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candid-app/candid-core/internal/auth"
	"github.com/candid-app/candid-core/internal/lifecycle"
	"github.com/candid-app/candid-core/internal/moderation"
	"github.com/candid-app/candid-core/internal/notify"
	"github.com/candid-app/candid-core/internal/store/memory"
	"github.com/candid-app/candid-core/pkg/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st := memory.NewStore()
	engine := lifecycle.NewEngine(
		st,
		auth.NewCredentialVerifier(st.Plain().Users()),
		moderation.NewFilter(moderation.FilterConfig{}),
		notify.NopNotifier{},
		lifecycle.DefaultConfig(),
	)

	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	server := NewServer(DefaultConfig(), engine, log)

	srv := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, JSONResponse) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope JSONResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func applied(t *testing.T, envelope JSONResponse) bool {
	t.Helper()
	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok, "expected object data, got %T", envelope.Data)
	result, ok := data["applied"].(bool)
	require.True(t, ok)
	return result
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterAndConverse(t *testing.T) {
	srv := newTestServer(t)

	// Register two users.
	resp, envelope := post(t, srv, "/api/v1/users", map[string]string{
		"uid": "asker", "secret": "s3cret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, envelope.Success)

	resp, _ = post(t, srv, "/api/v1/users", map[string]string{
		"uid": "helper", "secret": "s3cret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate registration conflicts.
	resp, envelope = post(t, srv, "/api/v1/users", map[string]string{
		"uid": "asker", "secret": "whatever",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "already_exists", envelope.Error.Code)

	// Asker opens a question.
	resp, envelope = post(t, srv, "/api/v1/conversations", map[string]string{
		"credential": "asker.s3cret",
		"question":   "should I move abroad?",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	convoID, ok := data["conversation_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, convoID)

	// Helper joins with a first reply.
	resp, envelope = post(t, srv, fmt.Sprintf("/api/v1/conversations/%s/join", convoID), map[string]string{
		"credential":  "helper.s3cret",
		"first_reply": "yes, you only live once",
		"reply_id":    "reply-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, applied(t, envelope))

	// A retried join reports false, not an error.
	resp, envelope = post(t, srv, fmt.Sprintf("/api/v1/conversations/%s/join", convoID), map[string]string{
		"credential": "helper.s3cret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, applied(t, envelope))

	// The asker answers back.
	resp, envelope = post(t, srv, fmt.Sprintf("/api/v1/conversations/%s/messages", convoID), map[string]string{
		"credential": "asker.s3cret",
		"message_id": "m-1",
		"text":       "that's what I keep telling myself",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, applied(t, envelope))

	// Helper reads and resolves their side.
	resp, envelope = post(t, srv, fmt.Sprintf("/api/v1/conversations/%s/read", convoID), map[string]string{
		"credential": "helper.s3cret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, applied(t, envelope))

	// Owner deletes the conversation.
	resp, envelope = post(t, srv, fmt.Sprintf("/api/v1/conversations/%s/delete", convoID), map[string]string{
		"credential": "asker.s3cret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, applied(t, envelope))
}

func TestBadCredentialIs401(t *testing.T) {
	srv := newTestServer(t)

	resp, envelope := post(t, srv, "/api/v1/conversations", map[string]string{
		"credential": "ghost.nope",
		"question":   "anyone?",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, envelope.Error)
}

func TestUnknownFieldIs400(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := post(t, srv, "/api/v1/users", map[string]string{
		"uid": "asker", "secret": "s3cret", "surprise": "field",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMissingQuestionIs400(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv, "/api/v1/users", map[string]string{"uid": "asker", "secret": "s3cret"})

	resp, _ := post(t, srv, "/api/v1/conversations", map[string]string{
		"credential": "asker.s3cret",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
