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

// OpenAIDriver embeds through an OpenAI-compatible /embeddings endpoint.
// Supports text-embedding-3-small (1536d), text-embedding-3-large (3072d).
type OpenAIDriver struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
}

// NewOpenAIDriver creates an OpenAI driver. baseURL defaults to the public
// API.
func NewOpenAIDriver(baseURL, apiKey, model string, client *http.Client) *OpenAIDriver {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := 1536
	if model == "text-embedding-3-large" {
		dims = 3072
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIDriver{
		endpoint:   strings.TrimRight(baseURL, "/") + "/embeddings",
		apiKey:     apiKey,
		model:      model,
		dimensions: dims,
		batchSize:  2048,
		client:     client,
	}
}

func (d *OpenAIDriver) Kind() string    { return "openai" }
func (d *OpenAIDriver) Dimensions() int { return d.dimensions }

// Embed returns one vector per text, batching as needed.
func (d *OpenAIDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return batched(ctx, texts, d.batchSize, d.embed)
}

func (d *OpenAIDriver) embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(map[string]any{"model": d.model, "input": texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := post(ctx, d.client, d.endpoint, body, http.Header{"Authorization": {"Bearer " + d.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	// Results carry an index; restore input order.
	out := make([][]float64, len(texts))
	for _, item := range gjson.GetBytes(resp, "data").Array() {
		i := int(item.Get("index").Int())
		if i >= 0 && i < len(out) {
			out[i] = vector(item.Get("embedding"))
		}
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai: missing embedding %d", i)
		}
	}
	return out, nil
}
