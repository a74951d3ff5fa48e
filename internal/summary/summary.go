// Package summary keeps per-session chat summaries and the master memory current.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/graph"
	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

const sessionInstruction = `You summarize one chat session for a personal memory archive.
Write a short paragraph covering who was involved, what was discussed and any decisions or
follow-ups. Use only the facts listed. Answer with plain text only.`

const masterInstruction = `You maintain a single long-term memory about the user.
Merge the new session summary into the current memory. Keep every still-relevant fact from the
current memory, add what is new, and drop exact repetitions. Answer with the full updated memory
as plain text only.`

// Completer is the text-completion surface of the inference client.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	// Every is the number of new fragments in a session that triggers regeneration.
	Every int
	// MaxFragments bounds the fragments fed into one session prompt.
	MaxFragments int
}

type Summarizer struct {
	store  store.Store
	merger *graph.Merger
	llm    Completer
	cfg    Config
	log    zerolog.Logger
}

func New(s store.Store, m *graph.Merger, llm Completer, cfg Config, log zerolog.Logger) *Summarizer {
	if cfg.Every < 1 {
		cfg.Every = 1
	}
	if cfg.MaxFragments < 1 {
		cfg.MaxFragments = 200
	}
	return &Summarizer{store: s, merger: m, llm: llm, cfg: cfg, log: log.With().Str("component", "summary").Logger()}
}

// Refresh regenerates the summary of sessionID once at least Every fragments
// were committed since the last regeneration, then folds it into the master
// memory. It reports whether a new chat summary was written.
func (s *Summarizer) Refresh(ctx context.Context, sessionID, sourceApp string) (bool, error) {
	count, err := s.store.Fragments().CountBySession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("count session fragments: %w", err)
	}
	seen := 0
	prev, err := s.store.Summaries().GetChat(ctx, sessionID)
	switch {
	case err == nil:
		seen = prev.FragmentCount
	case !errors.Is(err, model.ErrNotFound):
		return false, fmt.Errorf("load chat summary: %w", err)
	}
	if count-seen < s.cfg.Every {
		return false, nil
	}

	frags, err := s.store.Fragments().ListBySession(ctx, sessionID, s.cfg.MaxFragments)
	if err != nil {
		return false, fmt.Errorf("list session fragments: %w", err)
	}
	if len(frags) == 0 {
		return false, nil
	}

	text, err := s.llm.Complete(ctx, sessionInstruction, sessionPrompt(sourceApp, frags))
	if err != nil {
		return false, fmt.Errorf("summarize session %s: %w", sessionID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Warn().Str("session_id", sessionID).Msg("empty session summary ignored")
		return false, nil
	}

	cs := &model.ChatSummary{
		SessionID:     sessionID,
		SourceApp:     sourceApp,
		Summary:       text,
		FragmentCount: count,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.merger.CommitChatSummary(ctx, cs); err != nil {
		return false, fmt.Errorf("commit chat summary: %w", err)
	}
	s.log.Info().Str("session_id", sessionID).Int("fragments", count).Msg("chat summary regenerated")

	if _, err := s.merger.MergeMasterMemory(ctx, func(ctx context.Context, current string) (string, error) {
		return s.llm.Complete(ctx, masterInstruction, masterPrompt(current, cs))
	}); err != nil {
		return true, fmt.Errorf("merge master memory: %w", err)
	}
	return true, nil
}

func sessionPrompt(app string, frags []*model.MemoryFragment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Application: %s\nFacts:\n", app)
	for _, f := range frags {
		b.WriteString("- ")
		b.WriteString(f.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func masterPrompt(current string, cs *model.ChatSummary) string {
	if strings.TrimSpace(current) == "" {
		current = "(empty)"
	}
	return fmt.Sprintf("Current memory:\n%s\n\nNew session summary (%s, %s):\n%s\n", current, cs.SourceApp, cs.SessionID, cs.Summary)
}
