// Package models holds the domain types shared across the ARIA engine.
package models

import (
	"strings"
	"time"
)

// ── Providers ────────────────────────────────────────────────

// ProviderKind identifies an LLM vendor or deployment.
type ProviderKind string

const (
	ProviderOpenAI      ProviderKind = "openai"
	ProviderAzureOpenAI ProviderKind = "azure-openai"
	ProviderAnthropic   ProviderKind = "anthropic"
	ProviderGemini      ProviderKind = "gemini"
	ProviderMistral     ProviderKind = "mistral"
	ProviderGroq        ProviderKind = "groq"
	ProviderOpenRouter  ProviderKind = "openrouter"
	ProviderXAI         ProviderKind = "xai"
	ProviderPerplexity  ProviderKind = "perplexity"
	ProviderOllama      ProviderKind = "ollama"
	ProviderCustom      ProviderKind = "custom"
	ProviderOnDevice    ProviderKind = "on-device"
)

// StoredConfiguration is the client-persisted provider choice. A nil
// configuration is valid and selects the default local provider.
type StoredConfiguration struct {
	Provider   ProviderKind `json:"provider"`
	APIKey     string       `json:"apiKey"`
	Model      string       `json:"model,omitempty"`
	BaseURL    string       `json:"baseUrl,omitempty"`
	Deployment string       `json:"deployment,omitempty"`
	APIVersion string       `json:"apiVersion,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt,omitempty"`
}

// HasCredential reports whether the configuration carries an API key.
func (c *StoredConfiguration) HasCredential() bool {
	return c != nil && strings.TrimSpace(c.APIKey) != ""
}

// Redacted returns a copy safe to send to clients.
func (c StoredConfiguration) Redacted() StoredConfiguration {
	if len(c.APIKey) > 8 {
		c.APIKey = c.APIKey[:4] + "…" + c.APIKey[len(c.APIKey)-4:]
	} else if c.APIKey != "" {
		c.APIKey = "…"
	}
	return c
}

// ProviderInfo describes one catalog entry.
type ProviderInfo struct {
	Kind         ProviderKind `json:"kind"`
	Format       string       `json:"format"`
	BaseURL      string       `json:"baseUrl"`
	DefaultModel string       `json:"defaultModel"`
	RouterModel  string       `json:"routerModel"`
	KeyPrefix    string       `json:"keyPrefix,omitempty"`
	Local        bool         `json:"local"`
}

// ProviderTestResult is returned by the connection test. Failures carry a
// human-readable cause rather than an error.
type ProviderTestResult struct {
	Provider  string `json:"provider"`
	Kind      string `json:"kind"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
	Cause     string `json:"cause,omitempty"`
}

// ── Messages ─────────────────────────────────────────────────

const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn sent to a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a single invocation.
type CompletionOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	JSONMode    bool     `json:"json_mode,omitempty"`
	Model       string   `json:"model,omitempty"`
	// Retries < 0 disables retrying; 0 uses the invoker default.
	Retries int `json:"retries,omitempty"`
	// RouterTier selects the adapter's compact router model when Model is empty.
	RouterTier bool `json:"router_tier,omitempty"`
}

// Temp returns a pointer for CompletionOptions.Temperature.
func Temp(v float64) *float64 { return &v }

// ConversationMessage is one entry of the rolling conversation window.
type ConversationMessage struct {
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	HasChart     bool      `json:"hasChart,omitempty"`
	ChartSummary string    `json:"chartSummary,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StreamChunk is a single token/event from a streaming response.
type StreamChunk struct {
	Content  string `json:"content,omitempty"`
	Provider string `json:"provider,omitempty"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// ── Pipeline ─────────────────────────────────────────────────

// ResultSource records which degradation level produced an answer.
type ResultSource string

const (
	SourceRouted     ResultSource = "routed"
	SourceDirect     ResultSource = "direct"
	SourceDiagnostic ResultSource = "diagnostic"
)

// PipelineResult is the terminal output of one question.
type PipelineResult struct {
	TextContent string           `json:"textContent"`
	Chart       *ChartResult     `json:"chart,omitempty"`
	Entities    []Practitioner   `json:"entities,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Source      ResultSource     `json:"source"`
	Provider    string           `json:"provider,omitempty"`
	Intent      Intent           `json:"intent,omitempty"`
	RAGSources  []KnowledgeChunk `json:"ragSources,omitempty"`
	UsedRAG     bool             `json:"usedRAG"`
	LatencyMs   int64            `json:"latencyMs"`
}
