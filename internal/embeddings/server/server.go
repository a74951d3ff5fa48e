// Package server embeds text through the OpenAI-compatible /v1/embeddings
// endpoint of the supervised inference server.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Provider struct {
	client    *resty.Client
	model     string
	batchSize int
}

// New returns a provider for baseURL. batchSize <= 0 sends every batch in one request.
func New(baseURL, model string, batchSize int) *Provider {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Provider{client: c, model: model, batchSize: batchSize}
}

type embeddingRequest struct {
	Model string `json:"model,omitempty"`
	Input any    `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	vecs, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vecs[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embed batch: empty texts")
	}
	in := make([]string, len(texts))
	for i, t := range texts {
		if in[i] = strings.TrimSpace(t); in[i] == "" {
			return nil, fmt.Errorf("embed batch: empty text at index %d", i)
		}
	}

	size := p.batchSize
	if size <= 0 {
		size = len(in)
	}
	out := make([][]float32, 0, len(in))
	for start := 0; start < len(in); start += size {
		end := min(start+size, len(in))
		vecs, err := p.request(ctx, in[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Provider) request(ctx context.Context, input []string) ([][]float32, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(&embeddingRequest{Model: p.model, Input: input}).
		Post("/v1/embeddings")
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("embedding http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Data) != len(input) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(input), len(decoded.Data))
	}
	vecs := make([][]float32, len(input))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(input) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if vecs[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
