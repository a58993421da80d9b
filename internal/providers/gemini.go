package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/agentoven/aria/pkg/models"
	"github.com/tidwall/gjson"
)

// ── Gemini ──────────────────────────────────────────────────

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiCodec struct{}

func (geminiCodec) buildRequest(_ *Adapter, _ string, msgs []models.ChatMessage, opts models.CompletionOptions, _ bool) ([]byte, error) {
	system, rest := splitSystem(msgs)
	mapped := make([]models.ChatMessage, len(rest))
	for i, m := range rest {
		if m.Role == models.RoleAssistant {
			m.Role = "model"
		}
		mapped[i] = m
	}

	req := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	}
	for _, m := range mergeTurns(mapped) {
		req.Contents = append(req.Contents, geminiContent{Role: m.Role, Parts: []geminiPart{{Text: m.Content}}})
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if opts.JSONMode {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}
	return json.Marshal(req)
}

func (geminiCodec) url(a *Adapter, model string) string {
	return fmt.Sprintf("%s/models/%s:generateContent", a.BaseURL, url.PathEscape(model))
}

func (geminiCodec) headers(_ *Adapter, credential string) http.Header {
	h := http.Header{}
	if credential != "" {
		h.Set("x-goog-api-key", credential)
	}
	return h
}

func (geminiCodec) parseResponse(body []byte) (string, error) {
	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text")
	if !text.Exists() {
		if reason := gjson.GetBytes(body, "promptFeedback.blockReason"); reason.Exists() {
			return "", fmt.Errorf("gemini: prompt blocked: %s", reason.String())
		}
		return "", fmt.Errorf("gemini: no candidates in response")
	}
	return text.String(), nil
}

func (geminiCodec) parseError(body []byte) string {
	return gjson.GetBytes(body, "error.message").String()
}
