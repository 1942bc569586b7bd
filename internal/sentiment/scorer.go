package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/inquiry-router/internal/config"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// Result is a sentiment collaborator response. Score is in [-1, 1].
type Result struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// Scorer scores inbound message text. Calls are bounded by the
// configured timeout; callers proceed fail-open on error, keeping the
// case's prior score.
type Scorer interface {
	Score(ctx context.Context, text string) (Result, error)
}

// HTTPScorer calls an external sentiment endpoint.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// StaticScorer returns a fixed result. Used when no collaborator is
// configured (development) and in tests.
type StaticScorer struct {
	Result Result
	Err    error
}

// New selects the HTTP scorer when a URL is configured, a neutral
// static scorer otherwise.
func New(cfg config.SentimentConfig) Scorer {
	if cfg.URL == "" {
		return &StaticScorer{Result: Result{Score: 0, Label: "NEUTRAL"}}
	}
	return &HTTPScorer{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

// Score posts the text and decodes the collaborator's result.
func (s *HTTPScorer) Score(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, apperrors.NewExternalTimeout("sentiment", err)
		}
		return Result{}, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("sentiment collaborator returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, err
	}
	if result.Score < -1 || result.Score > 1 {
		return Result{}, fmt.Errorf("sentiment score out of range: %f", result.Score)
	}
	return result, nil
}

// Score returns the fixed result.
func (s *StaticScorer) Score(ctx context.Context, text string) (Result, error) {
	return s.Result, s.Err
}
