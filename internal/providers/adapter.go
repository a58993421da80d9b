// Package providers maps a stored configuration or a bare credential to a
// provider adapter. An adapter owns everything that differs between wire
// formats: request body, URL, headers, response and error extraction.
package providers

import (
	"net/http"
	"strings"

	"github.com/agentoven/aria/pkg/models"
)

// codec is implemented once per wire format.
type codec interface {
	buildRequest(a *Adapter, model string, msgs []models.ChatMessage, opts models.CompletionOptions, stream bool) ([]byte, error)
	url(a *Adapter, model string) string
	headers(a *Adapter, credential string) http.Header
	parseResponse(body []byte) (string, error)
	parseError(body []byte) string
}

// Adapter is an immutable provider binding. Callers must not modify its
// fields after construction; the resolver hands the same instance to
// concurrent callers.
type Adapter struct {
	Name         string
	Kind         models.ProviderKind
	Format       Format
	BaseURL      string
	DefaultModel string
	RouterModel  string
	Deployment   string
	APIVersion   string
	Local        bool
	JSONMode     bool

	codec codec
}

// Options override catalog defaults when building an adapter.
type Options struct {
	BaseURL     string
	Model       string
	RouterModel string
	Deployment  string
	APIVersion  string
}

// New builds an adapter for kind. Unknown kinds degrade to the generic
// OpenAI-compatible shape.
func New(kind models.ProviderKind, o Options) *Adapter {
	e, ok := catalog[kind]
	if !ok {
		e = catalog[models.ProviderCustom]
	}

	a := &Adapter{
		Name:         string(kind),
		Kind:         kind,
		Format:       e.format,
		BaseURL:      strings.TrimRight(firstNonEmpty(o.BaseURL, e.baseURL), "/"),
		DefaultModel: firstNonEmpty(o.Model, e.defaultModel),
		RouterModel:  firstNonEmpty(o.RouterModel, e.routerModel),
		Deployment:   o.Deployment,
		APIVersion:   o.APIVersion,
		Local:        e.local,
		JSONMode:     !e.noJSONMode,
	}
	if a.Name == "" {
		a.Name = string(models.ProviderCustom)
	}
	// An explicit model is also the router model; a user choosing a model
	// expects every call to use it.
	if o.Model != "" && o.RouterModel == "" {
		a.RouterModel = o.Model
	}
	if kind == models.ProviderAzureOpenAI {
		if a.Deployment == "" {
			a.Deployment = a.DefaultModel
		}
		if a.APIVersion == "" {
			a.APIVersion = DefaultAzureAPIVersion
		}
	}

	switch a.Format {
	case FormatGemini:
		a.codec = geminiCodec{}
	case FormatAnthropic:
		a.codec = anthropicCodec{}
	default:
		a.codec = openAICodec{}
	}
	return a
}

// ModelFor picks the model for a call: explicit, router tier, or default.
func (a *Adapter) ModelFor(opts models.CompletionOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	if opts.RouterTier && a.RouterModel != "" {
		return a.RouterModel
	}
	return a.DefaultModel
}

// BuildRequest returns the JSON body for one call.
func (a *Adapter) BuildRequest(msgs []models.ChatMessage, opts models.CompletionOptions, stream bool) ([]byte, error) {
	return a.codec.buildRequest(a, a.ModelFor(opts), msgs, opts, stream && a.SupportsStreaming())
}

// URL returns the endpoint for one call.
func (a *Adapter) URL(opts models.CompletionOptions) string {
	return a.codec.url(a, a.ModelFor(opts))
}

// Headers returns the request headers, including authentication.
func (a *Adapter) Headers(credential string) http.Header {
	h := a.codec.headers(a, credential)
	h.Set("Content-Type", "application/json")
	return h
}

// ParseResponse extracts the generated text from a success body.
func (a *Adapter) ParseResponse(body []byte) (string, error) {
	return a.codec.parseResponse(body)
}

// ParseError extracts a human-readable message from an error body.
func (a *Adapter) ParseError(body []byte) string {
	if msg := a.codec.parseError(body); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(body))
}

// SupportsStreaming reports whether the wire format has incremental SSE output.
func (a *Adapter) SupportsStreaming() bool {
	return a.Format == FormatOpenAI
}

// IsReasoningModel reports whether model belongs to a reasoning family that
// rejects temperature and uses a distinct token-budget field.
func IsReasoningModel(model string) bool {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if m == p || strings.HasPrefix(m, p+"-") {
			return true
		}
	}
	return false
}

// mergeTurns joins consecutive same-role turns, as required by formats that
// reject repeated roles.
func mergeTurns(msgs []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

// splitSystem separates system turns from the conversation.
func splitSystem(msgs []models.ChatMessage) (string, []models.ChatMessage) {
	var system []string
	rest := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem || m.Role == models.RoleDeveloper {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
