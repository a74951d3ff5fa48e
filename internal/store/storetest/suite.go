// Package storetest holds a compliance suite shared by store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
	"github.com/wednesday-solutions/my-memories-sub001/internal/store"
)

// Run exercises the compliance suite. makeStore must return a clean, isolated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("Fragments", func(t *testing.T) { testFragments(t, makeStore(t)) })
	t.Run("FragmentQuery", func(t *testing.T) { testFragmentQuery(t, makeStore(t)) })
	t.Run("EntitiesAndEdges", func(t *testing.T) { testGraph(t, makeStore(t)) })
	t.Run("Summaries", func(t *testing.T) { testSummaries(t, makeStore(t)) })
	t.Run("HealthPing", func(t *testing.T) {
		if err := makeStore(t).HealthPing(context.Background()); err != nil {
			t.Fatalf("HealthPing: %v", err)
		}
	})
}

var base = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

func fragment(app, content string, at time.Time, emb ...float32) model.MemoryFragment {
	return model.MemoryFragment{
		ID:        model.FragmentID(app, content),
		Content:   content,
		SourceApp: app,
		SessionID: model.SessionID(app, at),
		CaptureID: "cap-" + content[:1],
		CreatedAt: at,
		Embedding: emb,
		Entities:  []model.CandidateEntity{{Name: "Alice", Kind: "person"}},
		Relations: []model.CandidateRelation{{Source: "Alice", Target: "Bob", Relation: "discussed_with"}},
	}
}

func testFragments(t *testing.T, s store.Store) {
	ctx := context.Background()
	f1 := fragment("slack", "Alice discussed the Rust borrow checker with Bob", base, 1, 0, 0)
	f2 := fragment("slack", "Bob prefers Go for services", base.Add(time.Minute), 0, 1, 0)

	n, err := s.Fragments().Commit(ctx, []model.MemoryFragment{f1, f2})
	if err != nil || n != 2 {
		t.Fatalf("Commit: n=%d err=%v", n, err)
	}

	// Same batch again is a no-op.
	n, err = s.Fragments().Commit(ctx, []model.MemoryFragment{f1, f2})
	if err != nil || n != 0 {
		t.Fatalf("re-Commit: n=%d err=%v", n, err)
	}

	got, err := s.Fragments().Get(ctx, f1.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != f1.Content || got.SessionID != f1.SessionID || !got.CreatedAt.Equal(f1.CreatedAt) {
		t.Fatalf("Get: unexpected fragment %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[0] != 1 {
		t.Fatalf("Get: embedding not round-tripped: %v", got.Embedding)
	}
	if len(got.Entities) != 1 || len(got.Relations) != 1 || got.Relations[0].Target != "Bob" {
		t.Fatalf("Get: candidates not round-tripped: %+v", got)
	}

	if _, err := s.Fragments().Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}

	// A batch with one unembedded fragment commits nothing.
	bad := fragment("slack", "Carol joined the team", base.Add(2*time.Minute))
	ok := fragment("slack", "Dave left the team", base.Add(3*time.Minute), 0, 0, 1)
	if _, err := s.Fragments().Commit(ctx, []model.MemoryFragment{ok, bad}); !errors.Is(err, model.ErrMissingEmbedding) {
		t.Fatalf("Commit without embedding: want ErrMissingEmbedding, got %v", err)
	}
	if _, err := s.Fragments().Get(ctx, ok.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("partial commit leaked fragment: %v", err)
	}

	recent, err := s.Fragments().ListRecent(ctx, 10)
	if err != nil || len(recent) != 2 || recent[0].ID != f2.ID {
		t.Fatalf("ListRecent: n=%d err=%v", len(recent), err)
	}

	cnt, err := s.Fragments().CountBySession(ctx, f1.SessionID)
	if err != nil || cnt != 2 {
		t.Fatalf("CountBySession: n=%d err=%v", cnt, err)
	}
	sess, err := s.Fragments().ListBySession(ctx, f1.SessionID, 0)
	if err != nil || len(sess) != 2 || sess[0].ID != f1.ID {
		t.Fatalf("ListBySession: n=%d err=%v", len(sess), err)
	}
	newest, err := s.Fragments().ListBySession(ctx, f1.SessionID, 1)
	if err != nil || len(newest) != 1 || newest[0].ID != f2.ID {
		t.Fatalf("ListBySession limit keeps the newest: n=%d err=%v", len(newest), err)
	}

	if err := s.Fragments().SoftDelete(ctx, f2.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if err := s.Fragments().SoftDelete(ctx, f2.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("SoftDelete twice: want ErrNotFound, got %v", err)
	}
	recent, err = s.Fragments().ListRecent(ctx, 10)
	if err != nil || len(recent) != 1 || recent[0].ID != f1.ID {
		t.Fatalf("ListRecent after delete: n=%d err=%v", len(recent), err)
	}
	deleted, err := s.Fragments().Get(ctx, f2.ID)
	if err != nil || deleted.DeletedAt == nil {
		t.Fatalf("Get deleted: %+v err=%v", deleted, err)
	}
}

func testFragmentQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	rust := fragment("slack", "Alice discussed the Rust borrow checker with Bob", base, 1, 0.1, 0)
	goFr := fragment("discord", "Bob prefers Go for services", base.Add(time.Minute), 0, 1, 0)
	cooking := fragment("discord", "Carol shared a 100% rye bread recipe", base.Add(2*time.Minute), 0, 0, 1)
	if _, err := s.Fragments().Commit(ctx, []model.MemoryFragment{rust, goFr, cooking}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	res, err := s.Fragments().Query(ctx, model.Query{Embedding: []float32{0.9, 0.2, 0}, Limit: 2})
	if err != nil {
		t.Fatalf("Query by embedding: %v", err)
	}
	if len(res) != 2 || res[0].Fragment.ID != rust.ID || res[1].Fragment.ID != goFr.ID {
		t.Fatalf("Query by embedding: unexpected ranking %+v", res)
	}
	if res[0].Score <= res[1].Score {
		t.Fatalf("Query by embedding: scores not descending: %v, %v", res[0].Score, res[1].Score)
	}

	res, err = s.Fragments().Query(ctx, model.Query{Text: "BORROW checker"})
	if err != nil || len(res) != 1 || res[0].Fragment.ID != rust.ID {
		t.Fatalf("Query by text: n=%d err=%v", len(res), err)
	}

	res, err = s.Fragments().Query(ctx, model.Query{Text: "100%"})
	if err != nil || len(res) != 1 || res[0].Fragment.ID != cooking.ID {
		t.Fatalf("Query by text with wildcard char: n=%d err=%v", len(res), err)
	}

	if err := s.Fragments().SoftDelete(ctx, rust.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	res, err = s.Fragments().Query(ctx, model.Query{Embedding: []float32{1, 0, 0}, Limit: 5})
	if err != nil {
		t.Fatalf("Query after delete: %v", err)
	}
	for _, r := range res {
		if r.Fragment.ID == rust.ID {
			t.Fatalf("deleted fragment returned by Query")
		}
	}

	if _, err := s.Fragments().Query(ctx, model.Query{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("empty query: want ErrValidation, got %v", err)
	}
}

func testGraph(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := &model.Entity{
		ID: model.EntityID("Alice"), Name: "Alice", NormalizedName: "alice", Kind: "person",
		Facts:     []model.Fact{{Text: "likes Rust", FragmentID: "f1", AddedAt: base}},
		FirstSeen: base, LastSeen: base,
	}
	bob := &model.Entity{ID: model.EntityID("Bob"), Name: "Bob", NormalizedName: "bob", Kind: "person", FirstSeen: base, LastSeen: base}
	for _, e := range []*model.Entity{alice, bob} {
		if err := s.Entities().Commit(ctx, e); err != nil {
			t.Fatalf("Entities.Commit %s: %v", e.Name, err)
		}
	}

	alice.Facts = append(alice.Facts, model.Fact{Text: "reviews PRs", FragmentID: "f2", AddedAt: base.Add(time.Hour)})
	alice.LastSeen = base.Add(time.Hour)
	if err := s.Entities().Commit(ctx, alice); err != nil {
		t.Fatalf("Entities.Commit update: %v", err)
	}
	got, err := s.Entities().Get(ctx, alice.ID)
	if err != nil || len(got.Facts) != 2 || !got.LastSeen.Equal(alice.LastSeen) || !got.FirstSeen.Equal(base) {
		t.Fatalf("Entities.Get: %+v err=%v", got, err)
	}
	if _, err := s.Entities().Get(ctx, model.EntityID("nobody")); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Entities.Get missing: want ErrNotFound, got %v", err)
	}
	ents, err := s.Entities().List(ctx, 10)
	if err != nil || len(ents) != 2 || ents[0].ID != alice.ID {
		t.Fatalf("Entities.List: n=%d err=%v", len(ents), err)
	}

	edge := &model.EntityEdge{
		ID: model.EdgeID(alice.ID, bob.ID, "discussed_with"), SourceID: alice.ID, TargetID: bob.ID,
		Relation: "discussed_with", Weight: 1, Provenance: []string{"f1"}, FirstSeen: base, LastSeen: base,
	}
	if err := s.Edges().Commit(ctx, edge); err != nil {
		t.Fatalf("Edges.Commit: %v", err)
	}
	edge.Weight = 2
	edge.Provenance = append(edge.Provenance, "f2")
	if err := s.Edges().Commit(ctx, edge); err != nil {
		t.Fatalf("Edges.Commit update: %v", err)
	}
	gotEdge, err := s.Edges().Get(ctx, edge.ID)
	if err != nil || gotEdge.Weight != 2 || len(gotEdge.Provenance) != 2 {
		t.Fatalf("Edges.Get: %+v err=%v", gotEdge, err)
	}
	list, err := s.Edges().List(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("Edges.List: n=%d err=%v", len(list), err)
	}
	among, err := s.Edges().Among(ctx, []string{alice.ID, bob.ID})
	if err != nil || len(among) != 1 || among[0].ID != edge.ID {
		t.Fatalf("Edges.Among: n=%d err=%v", len(among), err)
	}
	among, err = s.Edges().Among(ctx, []string{alice.ID})
	if err != nil || len(among) != 0 {
		t.Fatalf("Edges.Among one endpoint: n=%d err=%v", len(among), err)
	}
	if _, err := s.Edges().Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Edges.Get missing: want ErrNotFound, got %v", err)
	}
	if err := s.Edges().Commit(ctx, &model.EntityEdge{ID: "x"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Edges.Commit invalid: want ErrValidation, got %v", err)
	}
}

func testSummaries(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.Summaries().GetChat(ctx, "slack/2026-03-04"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetChat missing: want ErrNotFound, got %v", err)
	}
	cs := &model.ChatSummary{SessionID: "slack/2026-03-04", SourceApp: "slack", Summary: "v1", FragmentCount: 2, UpdatedAt: base}
	if err := s.Summaries().PutChat(ctx, cs); err != nil {
		t.Fatalf("PutChat: %v", err)
	}
	cs.Summary, cs.FragmentCount = "v2", 4
	if err := s.Summaries().PutChat(ctx, cs); err != nil {
		t.Fatalf("PutChat replace: %v", err)
	}
	gotCS, err := s.Summaries().GetChat(ctx, cs.SessionID)
	if err != nil || gotCS.Summary != "v2" || gotCS.FragmentCount != 4 {
		t.Fatalf("GetChat: %+v err=%v", gotCS, err)
	}

	if _, err := s.Summaries().GetMaster(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetMaster empty: want ErrNotFound, got %v", err)
	}
	if err := s.Summaries().PutMaster(ctx, &model.MasterMemory{Summary: "m1", Revision: 1, UpdatedAt: base}, 0); err != nil {
		t.Fatalf("PutMaster first: %v", err)
	}
	if err := s.Summaries().PutMaster(ctx, &model.MasterMemory{Summary: "m1'", Revision: 1, UpdatedAt: base}, 0); !errors.Is(err, model.ErrStoreRejected) {
		t.Fatalf("PutMaster duplicate first: want ErrStoreRejected, got %v", err)
	}
	if err := s.Summaries().PutMaster(ctx, &model.MasterMemory{Summary: "m2", Revision: 2, UpdatedAt: base}, 1); err != nil {
		t.Fatalf("PutMaster advance: %v", err)
	}
	if err := s.Summaries().PutMaster(ctx, &model.MasterMemory{Summary: "stale", Revision: 2, UpdatedAt: base}, 1); !errors.Is(err, model.ErrStoreRejected) {
		t.Fatalf("PutMaster stale: want ErrStoreRejected, got %v", err)
	}
	mm, err := s.Summaries().GetMaster(ctx)
	if err != nil || mm.Summary != "m2" || mm.Revision != 2 {
		t.Fatalf("GetMaster: %+v err=%v", mm, err)
	}
}
