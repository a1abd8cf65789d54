package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/candid-app/candid-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOXICITY SCORING
// Comment-analysis API client (Perspective-compatible wire format).
// ══════════════════════════════════════════════════════════════════════════════

// ToxicityConfig configures the toxicity client.
type ToxicityConfig struct {
	// APIKey authenticates against the analysis API.
	APIKey string

	// BaseURL is the analysis endpoint base (default: the public
	// commentanalyzer endpoint).
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Threshold is the toxicity score [0,1] at or above which text is
	// rejected.
	Threshold float64

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultToxicityConfig returns sensible defaults.
func DefaultToxicityConfig(apiKey string) ToxicityConfig {
	return ToxicityConfig{
		APIKey:    apiKey,
		BaseURL:   "https://commentanalyzer.googleapis.com/v1alpha1",
		Timeout:   10 * time.Second,
		Threshold: 0.85,
	}
}

// Verdict is the result of scoring one text.
type Verdict struct {
	Score            float64
	DetectedLanguage string
}

// ToxicityClient calls the comment-analysis API.
type ToxicityClient struct {
	config ToxicityConfig
	client *http.Client
	logger *slog.Logger
}

// NewToxicityClient creates a new client.
func NewToxicityClient(cfg ToxicityConfig) *ToxicityClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ToxicityClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type analyzeRequest struct {
	Comment struct {
		Text string `json:"text"`
	} `json:"comment"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
}

type analyzeResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
	Languages []string `json:"languages"`
	Error     *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// AssessToxicity scores the text. Unsupported languages surface as
// InvalidArgument so the owning request rejects instead of crashing.
func (c *ToxicityClient) AssessToxicity(ctx context.Context, text string) (Verdict, error) {
	var reqBody analyzeRequest
	reqBody.Comment.Text = text
	reqBody.RequestedAttributes = map[string]struct{}{"TOXICITY": {}}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, fmt.Errorf("toxicity: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/comments:analyze?key=%s", c.config.BaseURL, c.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, fmt.Errorf("toxicity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, shared.WrapError("moderation", "Assess", shared.ErrExternalService, "analysis request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("toxicity: read response: %w", err)
	}

	var decoded analyzeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Verdict{}, fmt.Errorf("toxicity: decode response: %w", err)
	}

	if decoded.Error != nil {
		if strings.Contains(decoded.Error.Message, "language") {
			return Verdict{}, shared.ErrUnsupportedLanguage
		}
		return Verdict{}, shared.WrapError("moderation", "Assess", shared.ErrExternalService,
			decoded.Error.Status, fmt.Errorf("%s", decoded.Error.Message))
	}

	verdict := Verdict{}
	if tox, ok := decoded.AttributeScores["TOXICITY"]; ok {
		verdict.Score = tox.SummaryScore.Value
	}
	if len(decoded.Languages) > 0 {
		verdict.DetectedLanguage = decoded.Languages[0]
	}
	return verdict, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMBINED MODERATOR
// ══════════════════════════════════════════════════════════════════════════════

// ScoringModerator masks profanity and additionally rejects text whose
// toxicity score crosses the threshold. All analysis failures degrade to
// InvalidArgument rather than failing the owning request with an internal
// error; transport failures are logged and only the wordlist result is used.
type ScoringModerator struct {
	filter    *Filter
	client    *ToxicityClient
	threshold float64
	logger    *slog.Logger
}

// NewScoringModerator combines a wordlist filter with a toxicity client.
// A nil client degrades to wordlist-only cleaning.
func NewScoringModerator(filter *Filter, client *ToxicityClient, threshold float64, logger *slog.Logger) *ScoringModerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringModerator{filter: filter, client: client, threshold: threshold, logger: logger}
}

// Clean implements Moderator.
func (m *ScoringModerator) Clean(ctx context.Context, text string) (string, error) {
	cleaned, err := m.filter.Clean(ctx, text)
	if err != nil {
		return "", err
	}

	if m.client == nil {
		return cleaned, nil
	}

	verdict, err := m.client.AssessToxicity(ctx, text)
	if err != nil {
		if shared.IsInvalidArgument(err) {
			return "", err
		}
		// The analysis service being down must not block conversations.
		m.logger.Warn("toxicity scoring unavailable, falling back to wordlist", "error", err)
		return cleaned, nil
	}
	if verdict.Score >= m.threshold {
		return "", shared.ErrTextRejected
	}
	return cleaned, nil
}
