package providers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentoven/aria/pkg/models"
	"github.com/tidwall/gjson"
)

// ── Anthropic ───────────────────────────────────────────────

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type anthropicCodec struct{}

func (anthropicCodec) buildRequest(_ *Adapter, model string, msgs []models.ChatMessage, opts models.CompletionOptions, _ bool) ([]byte, error) {
	system, rest := splitSystem(msgs)
	turns := mergeTurns(rest)
	if len(turns) == 0 || turns[0].Role != models.RoleUser {
		turns = append([]models.ChatMessage{{Role: models.RoleUser, Content: "(début de conversation)"}}, turns...)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    turns,
		Temperature: opts.Temperature,
	})
}

func (anthropicCodec) url(a *Adapter, _ string) string {
	return a.BaseURL + "/messages"
}

func (anthropicCodec) headers(_ *Adapter, credential string) http.Header {
	h := http.Header{}
	if credential != "" {
		h.Set("x-api-key", credential)
	}
	h.Set("anthropic-version", anthropicVersion)
	return h
}

func (anthropicCodec) parseResponse(body []byte) (string, error) {
	text := gjson.GetBytes(body, `content.#(type=="text").text`)
	if !text.Exists() {
		return "", fmt.Errorf("anthropic: no text block in response")
	}
	return text.String(), nil
}

func (anthropicCodec) parseError(body []byte) string {
	return gjson.GetBytes(body, "error.message").String()
}
