// Package inference talks to the local multimodal inference server over its
// OpenAI-compatible chat completions endpoint.
package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

// Readiness reports whether the server may receive requests.
type Readiness interface {
	IsHealthy() bool
}

type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Client serializes requests through a single slot: the server handles one
// request at a time. Waiters are served in arrival order.
type Client struct {
	cfg   Config
	http  *resty.Client
	ready Readiness
	slot  chan struct{}
	log   zerolog.Logger
}

// New builds a client. ready may be nil, in which case the server is assumed Ready.
func New(cfg Config, ready Readiness, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")

	return &Client{
		cfg:   cfg,
		http:  c,
		ready: ready,
		slot:  make(chan struct{}, 1),
		log:   log.With().Str("component", "inference").Logger(),
	}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends one capture to the server and returns the fragments it yields.
// Timeouts and unusable answers yield zero fragments and a nil error.
func (c *Client) Extract(ctx context.Context, rec model.CaptureRecord) ([]model.MemoryFragment, error) {
	if rec.IsEmpty() {
		return nil, nil
	}

	parts := []contentPart{}
	if text := strings.TrimSpace(rec.Text); text != "" {
		parts = append(parts, contentPart{Type: "text", Text: "Application: " + rec.SourceApp + "\n\n" + text})
	} else {
		parts = append(parts, contentPart{Type: "text", Text: "Application: " + rec.SourceApp})
	}
	if len(rec.Image) > 0 {
		parts = append(parts, contentPart{Type: "image", Data: base64.StdEncoding.EncodeToString(rec.Image)})
	}

	start := time.Now()
	content, err := c.chat(ctx, []chatMessage{
		{Role: "system", Content: extractionInstruction},
		{Role: "user", Content: parts},
	})
	switch {
	case err == nil:
	case errors.Is(err, model.ErrExtractionTimeout), errors.Is(err, model.ErrMalformedResponse):
		c.log.Warn().Err(err).Str("capture_id", rec.ID).Str("app", rec.SourceApp).Msg("extraction yielded nothing")
		return nil, nil
	default:
		return nil, err
	}

	frags, err := parseFragments(content, rec)
	if err != nil {
		c.log.Warn().Err(err).Str("capture_id", rec.ID).Int("response_bytes", len(content)).Msg("extraction yielded nothing")
		return nil, nil
	}
	c.log.Debug().Str("capture_id", rec.ID).Int("fragments", len(frags)).Dur("elapsed", time.Since(start)).Msg("extraction done")
	return frags, nil
}

// Complete runs a text-only completion through the same request slot.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if system == "" {
		system = summaryInstruction
	}
	out, err := c.chat(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) chat(ctx context.Context, messages []chatMessage) (string, error) {
	if c.ready != nil && !c.ready.IsHealthy() {
		return "", model.ErrServerUnavailable
	}

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.slot }()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var out chatResponse
	resp, err := c.http.R().
		SetContext(reqCtx).
		SetBody(&chatRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		}).
		Post("/v1/chat/completions")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", model.ErrExtractionTimeout, c.cfg.Timeout)
		}
		return "", fmt.Errorf("%w: %v", model.ErrServerUnavailable, err)
	}
	if !resp.IsSuccess() {
		if resp.StatusCode() >= 500 {
			return "", fmt.Errorf("%w: status %d", model.ErrServerUnavailable, resp.StatusCode())
		}
		return "", fmt.Errorf("%w: status %d: %s", model.ErrMalformedResponse, resp.StatusCode(), truncate(resp.String(), 200))
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", model.ErrMalformedResponse)
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
