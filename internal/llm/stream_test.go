package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

func TestStreamDecodesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Bon\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"jour\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	iv, _ := newTestInvoker(0)
	var chunks []string
	text, err := iv.Stream(context.Background(), openAIAt(srv.URL), "k", userMsg, models.CompletionOptions{}, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", text)
	assert.Equal(t, []string{"Bon", "jour"}, chunks)
}

func TestStreamFlushesOneChunkForNonStreamingFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Réponse complète"}]}}]}`)
	}))
	defer srv.Close()

	iv, _ := newTestInvoker(0)
	a := providers.New(models.ProviderGemini, providers.Options{BaseURL: srv.URL})
	var chunks []string
	text, err := iv.Stream(context.Background(), a, "AIza", userMsg, models.CompletionOptions{}, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Réponse complète", text)
	assert.Equal(t, []string{"Réponse complète"}, chunks)
}

func TestStreamPlainJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"entier"}}]}`)
	}))
	defer srv.Close()

	iv, _ := newTestInvoker(0)
	var chunks []string
	text, err := iv.Stream(context.Background(), openAIAt(srv.URL), "", userMsg, models.CompletionOptions{}, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "entier", text)
	assert.Equal(t, []string{"entier"}, chunks)
}

func TestValidateReportsCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	iv, _ := newTestInvoker(2)
	res := iv.Validate(context.Background(), openAIAt(srv.URL), "bad")
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Cause, "Clé API")
	assert.NotEmpty(t, res.Error)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"OK"}}]}`)
	}))
	defer ok.Close()
	res = iv.Validate(context.Background(), openAIAt(ok.URL), "good")
	assert.True(t, res.Healthy)
	assert.Empty(t, res.Cause)
}
