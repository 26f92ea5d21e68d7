// Package oracle talks to the image similarity scoring service.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// ScoreRequest is the body sent to the scoring service
type ScoreRequest struct {
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
}

// ScoreResponse is the scoring service's answer
type ScoreResponse struct {
	Score float64 `json:"score"`
}

// Client scores images over HTTP. Each call is bounded by the overall
// timeout; failed attempts are retried with exponential backoff.
type Client struct {
	httpClient     *http.Client
	url            string
	timeout        time.Duration
	attemptTimeout time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	logger         *slog.Logger
}

// New creates a scoring client
func New(cfg config.OracleConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient:     &http.Client{},
		url:            cfg.URL,
		timeout:        cfg.Timeout,
		attemptTimeout: cfg.AttemptTimeout,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: cfg.InitialBackoff,
		logger:         logger,
	}
}

// Score returns the similarity of candidateRef to referenceRef in [0,100].
// Every failure is reported as domain.ErrScoringUnavailable.
func (c *Client) Score(ctx context.Context, referenceRef, candidateRef string) (float64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	if c.initialBackoff > 0 {
		b.InitialInterval = c.initialBackoff
	}

	attempt := 0
	score, err := backoff.Retry(ctx, func() (float64, error) {
		attempt++
		score, err := c.attempt(ctx, referenceRef, candidateRef)
		if err != nil {
			c.logger.Debug("scoring attempt failed", "attempt", attempt, "error", err)
		}
		return score, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err != nil {
		return 0, domain.ErrScoringUnavailable.Wrap(err)
	}
	return score, nil
}

func (c *Client) attempt(ctx context.Context, referenceRef, candidateRef string) (float64, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	body, err := json.Marshal(ScoreRequest{Reference: referenceRef, Candidate: candidateRef})
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("encoding request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling scoring service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	var out ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}
	if math.IsNaN(out.Score) || out.Score < 0 || out.Score > 100 {
		return 0, backoff.Permanent(errors.New("score out of range"))
	}
	return out.Score, nil
}
