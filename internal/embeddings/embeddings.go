// Package embeddings provides the embedding drivers used by the knowledge
// retriever: Ollama (local, default) and OpenAI.
package embeddings

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentoven/aria/internal/config"
	"github.com/agentoven/aria/pkg/contracts"
)

// New builds the driver selected by cfg.
func New(cfg config.KnowledgeConfig, client *http.Client) (contracts.EmbeddingDriver, error) {
	switch cfg.EmbeddingDriver {
	case "ollama", "":
		return NewOllamaDriver(cfg.EmbeddingURL, cfg.EmbeddingModel, client), nil
	case "openai":
		if cfg.EmbeddingAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings need ARIA_EMBEDDING_API_KEY")
		}
		return NewOpenAIDriver(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, client), nil
	}
	return nil, fmt.Errorf("unknown embedding driver %q", cfg.EmbeddingDriver)
}

// batched calls embed on slices of at most size texts and concatenates the
// results in order.
func batched(ctx context.Context, texts []string, size int, embed func(context.Context, []string) ([][]float64, error)) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// post sends a JSON body and returns the response body of a 200 reply.
func post(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = gjson.GetBytes(respBody, "error").String()
		}
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return nil, fmt.Errorf("embeddings API returned %d: %s", resp.StatusCode, msg)
	}
	return respBody, nil
}

func vectors(res gjson.Result) [][]float64 {
	arr := res.Array()
	out := make([][]float64, 0, len(arr))
	for _, v := range arr {
		out = append(out, vector(v))
	}
	return out
}

func vector(res gjson.Result) []float64 {
	nums := res.Array()
	vec := make([]float64, len(nums))
	for i, n := range nums {
		vec[i] = n.Float()
	}
	return vec
}
