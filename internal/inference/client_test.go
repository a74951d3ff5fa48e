package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

type readyFlag struct{ v atomic.Bool }

func (r *readyFlag) IsHealthy() bool { return r.v.Load() }

func ready() *readyFlag {
	r := &readyFlag{}
	r.v.Store(true)
	return r
}

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
}

const aliceBob = "```json\n" + `{"memories":[{"statement":"Alice discussed the Rust borrow checker with Bob",
"entities":[{"name":"Alice","kind":"Person","fact":"discussed the Rust borrow checker"},
            {"name":"Bob","kind":"person"},
            {"name":"Rust borrow checker","kind":"topic"},
            {"name":"   ","kind":"person"}],
"relations":[{"source":"Alice","target":"Bob","relation":"discussed with"},
             {"source":"Alice","target":"","relation":"knows"}]},
{"statement":"   "}]}` + "\n```"

func capture(text string) model.CaptureRecord {
	return model.CaptureRecord{
		ID:         "cap-1",
		SourceApp:  "Slack",
		Text:       text,
		CapturedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestExtract_ParsesFragments(t *testing.T) {
	var body chatRequest
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		_ = json.Unmarshal(b, &raw)
		chatReply(w, aliceBob)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "m"}, ready(), zerolog.Nop())
	rec := capture("Alice: have you fought the borrow checker yet?\nBob: every day")
	rec.Image = []byte{0x89, 'P', 'N', 'G'}

	frags, err := c.Extract(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, frags, 1)

	f := frags[0]
	assert.Equal(t, model.FragmentID("Slack", "Alice discussed the Rust borrow checker with Bob"), f.ID)
	assert.Equal(t, "slack/2026-03-04", f.SessionID)
	assert.Equal(t, "cap-1", f.CaptureID)
	assert.Equal(t, rec.CapturedAt, f.CreatedAt)
	require.Len(t, f.Entities, 3)
	assert.Equal(t, "person", f.Entities[0].Kind)
	require.Len(t, f.Relations, 1)
	assert.Equal(t, "discussed_with", f.Relations[0].Relation)

	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	parts := raw["messages"].([]any)[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	assert.Contains(t, parts[0].(map[string]any)["text"], "borrow checker")
	assert.Equal(t, "image", parts[1].(map[string]any)["type"])
	assert.Equal(t, "iVBORw==", parts[1].(map[string]any)["data"])
}

func TestExtract_EmptyCaptureSkipsServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		chatReply(w, aliceBob)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, ready(), zerolog.Nop())
	frags, err := c.Extract(context.Background(), capture("  \n "))
	require.NoError(t, err)
	assert.Empty(t, frags)
	assert.Zero(t, hits.Load())
}

func TestExtract_NotReadyFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, &readyFlag{}, zerolog.Nop())
	_, err := c.Extract(context.Background(), capture("hello"))
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
	assert.Zero(t, hits.Load())
}

func TestExtract_MalformedYieldsNothing(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":      "Sure! Alice and Bob talked about Rust.",
		"empty":      "",
		"truncated":  `{"memories":[{"statement":"Alice`,
		"wrong type": `{"memories":"none"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { chatReply(w, reply) }))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL}, ready(), zerolog.Nop())
			frags, err := c.Extract(context.Background(), capture("hello"))
			assert.NoError(t, err)
			assert.Empty(t, frags)
		})
	}
}

func TestExtract_NonJSONEnvelopeYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, ready(), zerolog.Nop())
	frags, err := c.Extract(context.Background(), capture("hello"))
	assert.NoError(t, err)
	assert.Empty(t, frags)
}

func TestExtract_TimeoutYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond}, ready(), zerolog.Nop())
	start := time.Now()
	frags, err := c.Extract(context.Background(), capture("hello"))
	assert.NoError(t, err)
	assert.Empty(t, frags)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtract_ServerErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, ready(), zerolog.Nop())
	_, err := c.Extract(context.Background(), capture("hello"))
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
}

func TestExtract_SingleRequestInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		chatReply(w, `{"memories":[]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, ready(), zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Extract(context.Background(), capture("hello"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestExtract_CanceledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		chatReply(w, `{"memories":[]}`)
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL}, ready(), zerolog.Nop())
	go func() { _, _ = c.Extract(context.Background(), capture("first")) }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Extract(ctx, capture("second"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		chatReply(w, "  Alice and Bob talked about Rust.  ")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil, zerolog.Nop())
	out, err := c.Complete(context.Background(), "", "summarize")
	require.NoError(t, err)
	assert.Equal(t, "Alice and Bob talked about Rust.", out)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "summarize", got.Messages[1].Content)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("Here you go: {\"a\":1} hope it helps"))
	assert.Equal(t, "", stripFences("   "))
}
