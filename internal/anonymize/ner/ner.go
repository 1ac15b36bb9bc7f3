// Package ner provides a Detector that calls a Presidio-compatible analyzer
// sidecar over HTTP. Offsets in the sidecar's answer are code-point offsets,
// which are rune offsets in Go.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	piiscrubber "github.com/aavaz-ai/pii-scrubber"
	"github.com/cenkalti/backoff/v4"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 2
	maxErrBody        = 512
)

// Client calls the sidecar's /analyze endpoint on one or more replicas.
type Client struct {
	baseURLs   []string
	replicas   *pool
	http       *http.Client
	maxRetries uint64
	interval   time.Duration
	scrubber   piiscrubber.Scrubber
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithRetryInterval sets the initial backoff interval between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// WithReplicas adds more sidecar base URLs. Requests and retries rotate
// across all of them.
func WithReplicas(baseURLs ...string) Option {
	return func(c *Client) { c.baseURLs = append(c.baseURLs, baseURLs...) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a NER Client pointing at the given base URL
// (e.g. "http://presidio-analyzer:3000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURLs: []string{baseURL},
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries: defaultMaxRetries,
		interval:   200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	c.replicas = newPool(c.baseURLs)
	s, err := piiscrubber.NewDefaultScrubber()
	if err != nil {
		slog.Warn("ner: pii scrubber unavailable, error bodies will not be logged", "err", err)
	} else {
		c.scrubber = s
	}
	return c
}

type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// StatusError is returned when the sidecar answers with a non-200 status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ner: unexpected status %d", e.Code)
}

// Detect implements anonymize.Detector. Transport errors and 5xx answers are
// retried; 4xx answers are not. It is safe for concurrent use.
func (c *Client) Detect(ctx context.Context, text string, entities []string, language string) ([]anonymize.Span, error) {
	if c.replicas.len() == 0 {
		return nil, errors.New("ner: no sidecar URL configured")
	}
	body, err := json.Marshal(analyzeRequest{Text: text, Language: language, Entities: entities})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	attempt := 0
	results, err := backoff.RetryWithData(func() ([]analyzeResult, error) {
		attempt++
		url := c.replicas.next()
		res, err := c.analyze(ctx, url, body)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return nil, backoff.Permanent(err)
		}
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			slog.Debug("ner: attempt failed", "attempt", attempt, "url", url, "err", err)
		}
		return res, err
	}, policy)
	if err != nil {
		return nil, err
	}

	spans := make([]anonymize.Span, 0, len(results))
	for _, r := range results {
		spans = append(spans, anonymize.Span{
			EntityType: r.EntityType,
			Start:      r.Start,
			End:        r.End,
			Score:      r.Score,
		})
	}
	return spans, nil
}

func (c *Client) analyze(ctx context.Context, url string, body []byte) ([]analyzeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		c.logErrorBody(resp.StatusCode, raw)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("ner: decode: %w", err))
	}
	return results, nil
}

// logErrorBody logs the sidecar's error body after scrubbing it, because
// analyzers tend to echo the offending input back.
func (c *Client) logErrorBody(code int, raw []byte) {
	if c.scrubber == nil || len(raw) == 0 {
		slog.Warn("ner: unexpected status", "code", code, "body_len", len(raw))
		return
	}
	scrubbed, err := c.scrubber.ScrubTexts([]string{string(raw)})
	if err != nil || len(scrubbed) == 0 {
		slog.Warn("ner: unexpected status", "code", code, "body_len", len(raw))
		return
	}
	slog.Warn("ner: unexpected status", "code", code, "body", scrubbed[0])
}
