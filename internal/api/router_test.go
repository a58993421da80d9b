package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/internal/api"
	"github.com/agentoven/aria/internal/api/handlers"
	"github.com/agentoven/aria/internal/config"
	"github.com/agentoven/aria/internal/contextbuilder"
	"github.com/agentoven/aria/internal/ondevice"
	"github.com/agentoven/aria/internal/pipeline"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/internal/sessions"
	"github.com/agentoven/aria/internal/store"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// plainLLM fails routing and answers everything else directly.
type plainLLM struct{}

func (plainLLM) Complete(_ context.Context, _ []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	if opts.RouterTier {
		return "", errors.New("router offline")
	}
	return "Vous avez 2 praticiens à Lyon.", nil
}

func (p plainLLM) CompleteStream(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, error) {
	text, err := p.Complete(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	for _, w := range strings.SplitAfter(text, " ") {
		onChunk(w)
	}
	return text, nil
}

type stubValidator struct{ credential string }

func (v *stubValidator) Validate(_ context.Context, a *providers.Adapter, credential string) *models.ProviderTestResult {
	v.credential = credential
	return &models.ProviderTestResult{Provider: a.Name, Kind: string(a.Kind), Healthy: true}
}

type testEnv struct {
	srv       *httptest.Server
	validator *stubValidator
}

func newEnv(t *testing.T, keys ...string) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore("")
	t.Cleanup(func() { mem.Close() })
	holder := store.NewConfigHolder(mem)

	v := &stubValidator{}
	h := &handlers.Handlers{
		Settings:  holder,
		Sessions:  sessions.New(sessions.Options{Window: 20, ChartHistory: 10}),
		Engine:    pipeline.New(contextbuilder.New(nil, nil, nil)),
		Bind:      func(*models.StoredConfiguration) contracts.StreamCompleter { return plainLLM{} },
		Resolver:  providers.NewResolver(providers.NewAdapterCache(8), providers.LocalSettings{BaseURL: "http://localhost:11434/v1", Model: "llama3.2"}),
		Validator: v,
		Device:    ondevice.NewEngine(nil, "", 0),
	}
	cfg := &config.Config{Version: "test", APIKeys: keys}
	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, validator: v}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const askBody = `{"question":"Combien de praticiens à Lyon ?","data":{"entities":[{"id":"1","lastName":"Martin","city":"Lyon"},{"id":"2","lastName":"Durand","city":"Lyon"}]}}`

func TestHealthAndVersion(t *testing.T) {
	env := newEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var v map[string]string
	resp = env.do(t, http.MethodGet, "/version", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "test", v["version"])
}

func TestAskRecordsConversation(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/conversations/c1/ask", askBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res models.PipelineResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "Vous avez 2 praticiens à Lyon.", res.TextContent)
	assert.Equal(t, models.SourceDirect, res.Source)

	resp = env.do(t, http.MethodGet, "/api/v1/conversations/c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv struct {
		Messages []models.ConversationMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Len(t, conv.Messages, 2)

	resp = env.do(t, http.MethodDelete, "/api/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/v1/conversations/c1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAskValidation(t *testing.T) {
	env := newEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/conversations/c1/ask", `{"question":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/conversations/c1/ask", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskStream(t *testing.T) {
	env := newEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/conversations/c1/ask/stream", askBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var (
		text   strings.Builder
		result *models.PipelineResult
		done   bool
		event  string
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			if event == "result" {
				result = &models.PipelineResult{}
				require.NoError(t, json.Unmarshal(data, result))
			} else {
				var chunk models.StreamChunk
				require.NoError(t, json.Unmarshal(data, &chunk))
				text.WriteString(chunk.Content)
				done = done || chunk.Done
			}
			event = ""
		}
	}
	require.NotNil(t, result)
	assert.True(t, done)
	assert.Equal(t, result.TextContent, text.String())
}

func TestProviderSettingsLifecycle(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/settings/provider", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/settings/provider", `{"apiKey":"sk-ant-secret-1234"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg models.StoredConfiguration
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, models.ProviderKind("anthropic"), cfg.Provider)
	assert.Equal(t, "sk-a****1234", cfg.APIKey)

	resp = env.do(t, http.MethodPost, "/api/v1/settings/provider/test", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sk-ant-secret-1234", env.validator.credential)

	resp = env.do(t, http.MethodPut, "/api/v1/settings/provider", `{"provider":"nope","apiKey":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/settings/provider", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/v1/settings/provider", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProviders(t *testing.T) {
	env := newEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.ProviderInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.NotEmpty(t, list)
}

func TestKnowledgeUnconfigured(t *testing.T) {
	env := newEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/knowledge/query", `{"query":"posologie"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOnDeviceStatus(t *testing.T) {
	env := newEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/ondevice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st ondevice.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.False(t, st.Supported)
}

func TestAPIKeyRequired(t *testing.T) {
	env := newEnv(t, "secret")
	resp := env.do(t, http.MethodGet, "/api/v1/providers", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
