package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedServer(t *testing.T, reorder bool, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			data[i] = item{Index: i, Embedding: []float32{float32(len(in)), 0.5}}
		}
		if reorder {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	var n atomic.Int32
	p := New(embedServer(t, true, &n).URL, "m", 0)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(2), vecs[2][0])
	assert.Equal(t, int32(1), n.Load())
}

func TestEmbedBatch_Chunks(t *testing.T) {
	var n atomic.Int32
	p := New(embedServer(t, false, &n).URL, "m", 2)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int32(3), n.Load())
}

func TestEmbed_RejectsEmptyText(t *testing.T) {
	var n atomic.Int32
	p := New(embedServer(t, false, &n).URL, "m", 0)
	_, err := p.Embed(context.Background(), "  ")
	assert.Error(t, err)
	_, err = p.EmbedBatch(context.Background(), []string{"a", ""})
	assert.Error(t, err)
	assert.Zero(t, n.Load())
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "m", 0).Embed(context.Background(), "alice")
	assert.ErrorContains(t, err, "expected 1 embeddings")
}

func TestEmbed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "m", 0).Embed(context.Background(), "alice")
	assert.ErrorContains(t, err, "embedding http 500")
}
