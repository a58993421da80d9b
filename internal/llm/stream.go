package llm

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

func (iv *Invoker) streamAttempt(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, bool, error) {
	ctx, cancel := iv.withTimeout(ctx)
	defer cancel()

	resp, err := iv.send(ctx, a, credential, msgs, opts, true)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return "", false, statusError(a, resp, body)
	}

	// Some OpenAI-compatible servers ignore "stream" and answer with a
	// plain JSON body.
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return "", false, transportError(ctx, a, err)
		}
		if text, err := a.ParseResponse(body); err == nil && strings.TrimSpace(text) != "" {
			if onChunk != nil {
				onChunk(text)
			}
			return text, true, nil
		}
		return decodeSSE(ctx, a, strings.NewReader(string(body)), onChunk)
	}
	return decodeSSE(ctx, a, resp.Body, onChunk)
}

// decodeSSE reads "data: {...}" lines until "[DONE]" and forwards each
// .choices[0].delta.content. It reports whether any chunk was emitted.
func decodeSSE(ctx context.Context, a *providers.Adapter, r io.Reader, onChunk func(string)) (string, bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var full strings.Builder
	emitted := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		if msg := gjson.Get(payload, "error.message"); msg.Exists() {
			return full.String(), emitted, &Error{Provider: a.Name, Kind: KindServer, Message: msg.String()}
		}
		delta := gjson.Get(payload, "choices.0.delta.content").String()
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		emitted = true
		if onChunk != nil {
			onChunk(delta)
		}
	}
	if err := sc.Err(); err != nil {
		return full.String(), emitted, transportError(ctx, a, err)
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", emitted, &Error{Provider: a.Name, Kind: KindEmpty, Message: "empty stream"}
	}
	return full.String(), emitted, nil
}
