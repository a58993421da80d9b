package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/agentoven/aria/pkg/models"
	"github.com/tidwall/gjson"
)

// ── OpenAI-compatible ───────────────────────────────────────

type openAIRequest struct {
	Model               string               `json:"model,omitempty"`
	Messages            []models.ChatMessage `json:"messages"`
	Temperature         *float64             `json:"temperature,omitempty"`
	MaxTokens           int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	ResponseFormat      *openAIFormat        `json:"response_format,omitempty"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAICodec struct{}

func (openAICodec) buildRequest(a *Adapter, model string, msgs []models.ChatMessage, opts models.CompletionOptions, stream bool) ([]byte, error) {
	req := openAIRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
	}
	if IsReasoningModel(model) {
		req.MaxCompletionTokens = opts.MaxTokens
		if a.Kind == models.ProviderOpenAI || a.Kind == models.ProviderAzureOpenAI {
			req.Messages = make([]models.ChatMessage, len(msgs))
			for i, m := range msgs {
				if m.Role == models.RoleSystem {
					m.Role = models.RoleDeveloper
				}
				req.Messages[i] = m
			}
		}
	} else {
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode && a.JSONMode {
		req.ResponseFormat = &openAIFormat{Type: "json_object"}
	}
	return json.Marshal(req)
}

func (openAICodec) url(a *Adapter, model string) string {
	if a.Kind == models.ProviderAzureOpenAI {
		dep := a.Deployment
		if dep == "" {
			dep = model
		}
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			a.BaseURL, url.PathEscape(dep), url.QueryEscape(a.APIVersion))
	}
	return a.BaseURL + "/chat/completions"
}

func (openAICodec) headers(a *Adapter, credential string) http.Header {
	h := http.Header{}
	if credential == "" {
		return h
	}
	switch a.Kind {
	case models.ProviderAzureOpenAI:
		h.Set("api-key", credential)
	case models.ProviderOpenRouter:
		h.Set("Authorization", "Bearer "+credential)
		h.Set("X-Title", "ARIA")
	default:
		h.Set("Authorization", "Bearer "+credential)
	}
	return h
}

func (openAICodec) parseResponse(body []byte) (string, error) {
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return content.String(), nil
}

func (openAICodec) parseError(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if e := gjson.GetBytes(body, "error"); e.Type == gjson.String {
		return e.String()
	}
	return gjson.GetBytes(body, "message").String()
}
