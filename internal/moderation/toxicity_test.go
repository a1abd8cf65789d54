package moderation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candid-app/candid-core/internal/domain/shared"
)

func analysisServer(t *testing.T, handler http.HandlerFunc) *ToxicityClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultToxicityConfig("test-key")
	cfg.BaseURL = srv.URL
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewToxicityClient(cfg)
}

func scoreResponse(score float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"attributeScores": {"TOXICITY": {"summaryScore": {"value": %g}}},
			"languages": ["en"]
		}`, score)
	}
}

func TestAssessToxicity_ParsesScore(t *testing.T) {
	client := analysisServer(t, scoreResponse(0.42))

	verdict, err := client.AssessToxicity(context.Background(), "mildly spicy take")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, verdict.Score, 1e-9)
	assert.Equal(t, "en", verdict.DetectedLanguage)
}

func TestAssessToxicity_UnsupportedLanguage(t *testing.T) {
	client := analysisServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": {"status": "INVALID_ARGUMENT",
			"message": "Attribute TOXICITY does not support request languages: xx"}}`))
	})

	_, err := client.AssessToxicity(context.Background(), "...")
	assert.ErrorIs(t, err, shared.ErrUnsupportedLanguage)
}

func newScoring(t *testing.T, handler http.HandlerFunc) *ScoringModerator {
	t.Helper()
	client := analysisServer(t, handler)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScoringModerator(NewFilter(FilterConfig{}), client, 0.85, logger)
}

func TestScoringModerator_PassesCleanText(t *testing.T) {
	m := newScoring(t, scoreResponse(0.1))

	got, err := m.Clean(context.Background(), "a perfectly damn reasonable question")
	require.NoError(t, err)
	assert.Equal(t, "a perfectly **** reasonable question", got,
		"wordlist masking still applies under the threshold")
}

func TestScoringModerator_RejectsToxicText(t *testing.T) {
	m := newScoring(t, scoreResponse(0.97))

	_, err := m.Clean(context.Background(), "unhinged rant")
	assert.ErrorIs(t, err, shared.ErrTextRejected)
}

func TestScoringModerator_DegradesWhenServiceIsDown(t *testing.T) {
	m := newScoring(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	got, err := m.Clean(context.Background(), "still works, damn it")
	require.NoError(t, err, "a down scorer must not block conversations")
	assert.Equal(t, "still works, **** it", got)
}

func TestScoringModerator_NilClientIsWordlistOnly(t *testing.T) {
	m := NewScoringModerator(NewFilter(FilterConfig{}), nil, 0.85,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	got, err := m.Clean(context.Background(), "no scorer configured")
	require.NoError(t, err)
	assert.Equal(t, "no scorer configured", got)
}
