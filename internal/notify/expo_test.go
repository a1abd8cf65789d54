package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]", true},
		{"ExponentPushToken[]", true},
		{"ExpoPushToken[abc]", false},
		{"ExponentPushToken[abc", false},
		{"fcm-registration-token", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidToken(tt.token), "token %q", tt.token)
	}
}

// pushServer records the chunks the client posts.
func pushServer(t *testing.T) (*httptest.Server, *[][]expoMessage) {
	t.Helper()

	var chunks [][]expoMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/--/api/v2/push/send", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var chunk []expoMessage
		require.NoError(t, json.Unmarshal(body, &chunk))
		chunks = append(chunks, chunk)

		resp := map[string]any{"data": make([]map[string]string, 0, len(chunk))}
		for range chunk {
			resp["data"] = append(resp["data"].([]map[string]string), map[string]string{"status": "ok"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return srv, &chunks
}

func TestPush_DropsInvalidTokens(t *testing.T) {
	srv, chunks := pushServer(t)

	cfg := DefaultExpoConfig()
	cfg.BaseURL = srv.URL
	client := NewExpoClient(cfg)

	err := client.Push(context.Background(), []Notification{
		{Token: "ExponentPushToken[good]", Title: "hello", Body: "world", ConversationID: "c-1"},
		{Token: "bad-token", Title: "never", Body: "sent"},
	})
	require.NoError(t, err)

	require.Len(t, *chunks, 1)
	chunk := (*chunks)[0]
	require.Len(t, chunk, 1)
	assert.Equal(t, "ExponentPushToken[good]", chunk[0].To)
	assert.Equal(t, "default", chunk[0].Sound)
}

func TestPush_NothingValidMeansNoRequest(t *testing.T) {
	srv, chunks := pushServer(t)

	cfg := DefaultExpoConfig()
	cfg.BaseURL = srv.URL
	client := NewExpoClient(cfg)

	err := client.Push(context.Background(), []Notification{
		{Token: "nope", Body: "x"},
	})
	require.NoError(t, err)
	assert.Empty(t, *chunks)
}

func TestPush_ChunksAtProviderLimit(t *testing.T) {
	srv, chunks := pushServer(t)

	cfg := DefaultExpoConfig()
	cfg.BaseURL = srv.URL
	client := NewExpoClient(cfg)

	notifications := make([]Notification, expoChunkSize+5)
	for i := range notifications {
		notifications[i] = Notification{
			Token: fmt.Sprintf("ExponentPushToken[device-%d]", i),
			Body:  "ping",
		}
	}

	err := client.Push(context.Background(), notifications)
	require.NoError(t, err)

	require.Len(t, *chunks, 2)
	assert.Len(t, (*chunks)[0], expoChunkSize)
	assert.Len(t, (*chunks)[1], 5)
}

func TestPush_ContinuesPastFailedChunk(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}))
	defer srv.Close()

	cfg := DefaultExpoConfig()
	cfg.BaseURL = srv.URL
	client := NewExpoClient(cfg)

	notifications := make([]Notification, expoChunkSize+1)
	for i := range notifications {
		notifications[i] = Notification{
			Token: fmt.Sprintf("ExponentPushToken[device-%d]", i),
			Body:  "ping",
		}
	}

	err := client.Push(context.Background(), notifications)
	assert.Error(t, err, "the failed chunk still surfaces")
	assert.Equal(t, 2, calls, "the second chunk is attempted anyway")
}
