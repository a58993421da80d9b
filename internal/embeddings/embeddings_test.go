package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/internal/config"
)

func TestOllamaEmbedBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		batches = append(batches, len(req.Input))

		vecs := make([][]float64, len(req.Input))
		for i, in := range req.Input {
			vecs[i] = []float64{float64(len(in)), 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}))
	defer srv.Close()

	d := NewOllamaDriver(srv.URL+"/v1", "", srv.Client())
	d.batchSize = 2

	got, err := d.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1}, {2, 1}, {3, 1}}, got)
	assert.Equal(t, []int{2, 1}, batches)
	assert.Equal(t, 768, d.Dimensions())
}

func TestOpenAIEmbedRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.2,0.3]},{"index":0,"embedding":[0.1]}]}`))
	}))
	defer srv.Close()

	d := NewOpenAIDriver(srv.URL+"/v1", "sk-test", "", srv.Client())
	got, err := d.Embed(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1}, {0.2, 0.3}}, got)
}

func TestEmbedErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIDriver(srv.URL, "bad", "", srv.Client()).Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401: Incorrect API key")
}

func TestNew(t *testing.T) {
	d, err := New(config.KnowledgeConfig{EmbeddingDriver: "ollama"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", d.Kind())

	_, err = New(config.KnowledgeConfig{EmbeddingDriver: "openai"}, nil)
	assert.Error(t, err)

	_, err = New(config.KnowledgeConfig{EmbeddingDriver: "cohere"}, nil)
	assert.Error(t, err)
}
