package providers

import (
	"sort"
	"strings"

	"github.com/agentoven/aria/pkg/models"
)

// Format is the wire protocol spoken by a provider.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatGemini    Format = "gemini"
	FormatAnthropic Format = "anthropic"
)

// DefaultAzureAPIVersion is used when an Azure configuration omits one.
const DefaultAzureAPIVersion = "2024-08-01-preview"

type catalogEntry struct {
	format       Format
	baseURL      string
	defaultModel string
	routerModel  string
	keyPrefix    string
	local        bool
	noJSONMode   bool
}

var catalog = map[models.ProviderKind]catalogEntry{
	models.ProviderOpenAI:      {format: FormatOpenAI, baseURL: "https://api.openai.com/v1", defaultModel: "gpt-4o-mini", routerModel: "gpt-4o-mini", keyPrefix: "sk-"},
	models.ProviderAzureOpenAI: {format: FormatOpenAI, defaultModel: "gpt-4o-mini", routerModel: "gpt-4o-mini"},
	models.ProviderAnthropic:   {format: FormatAnthropic, baseURL: "https://api.anthropic.com/v1", defaultModel: "claude-3-5-sonnet-latest", routerModel: "claude-3-5-haiku-latest", keyPrefix: "sk-ant-"},
	models.ProviderGemini:      {format: FormatGemini, baseURL: "https://generativelanguage.googleapis.com/v1beta", defaultModel: "gemini-2.0-flash", routerModel: "gemini-2.0-flash-lite", keyPrefix: "AIza"},
	models.ProviderMistral:     {format: FormatOpenAI, baseURL: "https://api.mistral.ai/v1", defaultModel: "mistral-large-latest", routerModel: "mistral-small-latest"},
	models.ProviderGroq:        {format: FormatOpenAI, baseURL: "https://api.groq.com/openai/v1", defaultModel: "llama-3.3-70b-versatile", routerModel: "llama-3.1-8b-instant", keyPrefix: "gsk_"},
	models.ProviderOpenRouter:  {format: FormatOpenAI, baseURL: "https://openrouter.ai/api/v1", defaultModel: "openai/gpt-4o-mini", routerModel: "openai/gpt-4o-mini", keyPrefix: "sk-or-"},
	models.ProviderXAI:         {format: FormatOpenAI, baseURL: "https://api.x.ai/v1", defaultModel: "grok-2-latest", routerModel: "grok-2-latest", keyPrefix: "xai-"},
	models.ProviderPerplexity:  {format: FormatOpenAI, baseURL: "https://api.perplexity.ai", defaultModel: "sonar", routerModel: "sonar", keyPrefix: "pplx-", noJSONMode: true},
	models.ProviderOllama:      {format: FormatOpenAI, baseURL: "http://localhost:11434/v1", defaultModel: "llama3.2", routerModel: "llama3.2", local: true},
	models.ProviderCustom:      {format: FormatOpenAI, baseURL: "https://api.openai.com/v1", defaultModel: "gpt-4o-mini", routerModel: "gpt-4o-mini"},
}

// prefixOrder lists credential prefixes longest-first so "sk-ant-" wins over "sk-".
var prefixOrder = []struct {
	prefix string
	kind   models.ProviderKind
}{
	{"sk-ant-", models.ProviderAnthropic},
	{"sk-or-", models.ProviderOpenRouter},
	{"sk-proj-", models.ProviderOpenAI},
	{"gsk_", models.ProviderGroq},
	{"xai-", models.ProviderXAI},
	{"pplx-", models.ProviderPerplexity},
	{"AIza", models.ProviderGemini},
	{"sk-", models.ProviderOpenAI},
}

// InferKind maps a credential to a provider by its magic prefix. Unknown
// prefixes map to the generic OpenAI-compatible provider.
func InferKind(credential string) models.ProviderKind {
	credential = strings.TrimSpace(credential)
	for _, p := range prefixOrder {
		if strings.HasPrefix(credential, p.prefix) {
			return p.kind
		}
	}
	return models.ProviderCustom
}

// Known reports whether kind is in the catalog.
func Known(kind models.ProviderKind) bool {
	_, ok := catalog[kind]
	return ok
}

// Catalog lists every known provider, sorted by kind.
func Catalog() []models.ProviderInfo {
	out := make([]models.ProviderInfo, 0, len(catalog))
	for kind, e := range catalog {
		out = append(out, models.ProviderInfo{
			Kind:         kind,
			Format:       string(e.format),
			BaseURL:      e.baseURL,
			DefaultModel: e.defaultModel,
			RouterModel:  e.routerModel,
			KeyPrefix:    e.keyPrefix,
			Local:        e.local,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
