package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// OllamaDriver embeds through Ollama's /api/embed.
// Supports nomic-embed-text (768d), mxbai-embed-large (1024d), all-minilm (384d).
type OllamaDriver struct {
	endpoint   string
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
}

// NewOllamaDriver creates an Ollama driver. endpoint may carry the /v1
// suffix used for chat; it is stripped.
func NewOllamaDriver(endpoint, model string, client *http.Client) *OllamaDriver {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	endpoint = strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/v1")
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	switch model {
	case "mxbai-embed-large":
		dims = 1024
	case "all-minilm", "all-minilm:l6-v2":
		dims = 384
	}
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OllamaDriver{endpoint: endpoint, model: model, dimensions: dims, batchSize: 256, client: client}
}

func (d *OllamaDriver) Kind() string    { return "ollama" }
func (d *OllamaDriver) Dimensions() int { return d.dimensions }

// Embed returns one vector per text, batching as needed.
func (d *OllamaDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return batched(ctx, texts, d.batchSize, d.embed)
}

func (d *OllamaDriver) embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(map[string]any{"model": d.model, "input": texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := post(ctx, d.client, d.endpoint+"/api/embed", body, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return vectors(gjson.GetBytes(resp, "embeddings")), nil
}
