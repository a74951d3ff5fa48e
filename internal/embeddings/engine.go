package embeddings

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

// Engine attaches embeddings to the fragments of one cycle.
type Engine struct {
	provider  Provider
	dimension int
	log       zerolog.Logger
}

// NewEngine returns an engine. A positive dimension rejects vectors of any other length.
func NewEngine(p Provider, dimension int, log zerolog.Logger) *Engine {
	return &Engine{provider: p, dimension: dimension, log: log.With().Str("component", "embeddings").Logger()}
}

func (e *Engine) check(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", model.ErrEmbeddingFailed)
	}
	if e.dimension > 0 && len(vec) != e.dimension {
		return fmt.Errorf("%w: dimension %d, want %d", model.ErrEmbeddingFailed, len(vec), e.dimension)
	}
	return nil
}

// EmbedFragments returns the fragments that received a valid embedding.
// A fragment whose embedding fails is dropped and logged; the others proceed.
// The only error returned is ctx's.
func (e *Engine) EmbedFragments(ctx context.Context, frags []model.MemoryFragment) ([]model.MemoryFragment, error) {
	if len(frags) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, len(frags))
	if bp, ok := e.provider.(BatchProvider); ok && len(frags) > 1 {
		texts := make([]string, len(frags))
		for i := range frags {
			texts[i] = frags[i].Content
		}
		out, err := bp.EmbedBatch(ctx, texts)
		switch {
		case err == nil && len(out) == len(frags):
			vecs = out
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			e.log.Warn().Err(err).Int("fragments", len(frags)).Msg("batch embedding failed, falling back to single requests")
		}
	}

	kept := make([]model.MemoryFragment, 0, len(frags))
	for i := range frags {
		vec := vecs[i]
		if vec == nil {
			v, err := e.provider.Embed(ctx, frags[i].Content)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.log.Warn().Err(err).Str("fragment_id", frags[i].ID).Msg("embedding failed, dropping fragment")
				continue
			}
			vec = v
		}
		if err := e.check(vec); err != nil {
			e.log.Warn().Err(err).Str("fragment_id", frags[i].ID).Msg("embedding rejected, dropping fragment")
			continue
		}
		f := frags[i]
		f.Embedding = vec
		kept = append(kept, f)
	}
	return kept, nil
}

// EmbedQuery embeds a search query.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingFailed, err)
	}
	if err := e.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Provider exposes the underlying provider, e.g. for health checking.
func (e *Engine) Provider() Provider { return e.provider }
