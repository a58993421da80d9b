// Package llm executes calls against a single provider adapter with retry
// and backoff. It is the only package that performs LLM network I/O.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentoven/aria/internal/metrics"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

var tracer = otel.Tracer("aria/llm")

// maxBodyBytes bounds how much of a provider response is read.
const maxBodyBytes = 8 << 20

// Policy configures retries and timeouts.
type Policy struct {
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimitWait  time.Duration
	Timeout        time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Retries:        2,
		InitialBackoff: time.Second,
		MaxBackoff:     20 * time.Second,
		RateLimitWait:  DefaultRateLimitWait,
		Timeout:        90 * time.Second,
	}
}

// Invoker sends requests built by provider adapters.
type Invoker struct {
	client *http.Client
	policy Policy

	// sleep waits d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an invoker. A nil client uses a plain http.Client; the
// per-call timeout comes from the policy, not the client.
func NewInvoker(client *http.Client, p Policy) *Invoker {
	if client == nil {
		client = &http.Client{}
	}
	def := DefaultPolicy()
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.RateLimitWait <= 0 {
		p.RateLimitWait = def.RateLimitWait
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	return &Invoker{client: client, policy: p, sleep: sleepCtx}
}

// Policy returns the effective policy.
func (iv *Invoker) Policy() Policy { return iv.policy }

// Invoke executes one logical call, retrying transient failures. On
// exhaustion it returns the last recorded *Error.
func (iv *Invoker) Invoke(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	return iv.run(ctx, a, opts, "invoke", func(ctx context.Context) (string, bool, error) {
		text, err := iv.attempt(ctx, a, credential, msgs, opts)
		return text, false, err
	})
}

// Stream executes one call and reports text incrementally. Formats without
// incremental output flush the full text as one chunk. Once a chunk has been
// delivered the call is not retried.
func (iv *Invoker) Stream(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, error) {
	if !a.SupportsStreaming() {
		text, err := iv.Invoke(ctx, a, credential, msgs, opts)
		if err == nil && onChunk != nil {
			onChunk(text)
		}
		return text, err
	}
	return iv.run(ctx, a, opts, "stream", func(ctx context.Context) (string, bool, error) {
		return iv.streamAttempt(ctx, a, credential, msgs, opts, onChunk)
	})
}

func (iv *Invoker) retriesFor(opts models.CompletionOptions) int {
	switch {
	case opts.Retries < 0:
		return 0
	case opts.Retries == 0:
		return iv.policy.Retries
	default:
		return opts.Retries
	}
}

// run drives the retry loop. fn reports whether output was already emitted.
func (iv *Invoker) run(ctx context.Context, a *providers.Adapter, opts models.CompletionOptions, op string, fn func(context.Context) (string, bool, error)) (string, error) {
	start := time.Now()
	model := a.ModelFor(opts)
	ctx, span := tracer.Start(ctx, "llm."+op)
	span.SetAttributes(
		attribute.String("llm.provider", a.Name),
		attribute.String("llm.model", model),
	)
	defer span.End()

	retries := iv.retriesFor(opts)
	sched := newSchedule(iv.policy.InitialBackoff, iv.policy.MaxBackoff)

	var lastErr *Error
	for attempt := 0; attempt <= retries; attempt++ {
		text, emitted, err := fn(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			metrics.LLMInvocations.WithLabelValues(a.Name, "ok").Inc()
			metrics.LLMDuration.WithLabelValues(a.Name).Observe(time.Since(start).Seconds())
			return text, nil
		}

		lastErr = asError(a, err)
		lastErr.Attempts = attempt + 1
		if emitted || !lastErr.Retryable() || attempt == retries {
			break
		}

		hint := lastErr.RetryAfter
		if lastErr.Kind == KindRateLimit && hint <= 0 {
			hint = iv.policy.RateLimitWait
		}
		wait := sched.next(hint)
		metrics.LLMRetries.WithLabelValues(a.Name, string(lastErr.Kind)).Inc()
		log.Warn().
			Str("provider", a.Name).
			Str("model", model).
			Str("kind", string(lastErr.Kind)).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("LLM call failed, retrying")

		if err := iv.sleep(ctx, wait); err != nil {
			lastErr = &Error{Provider: a.Name, Kind: KindCanceled, Message: "canceled during backoff", Attempts: attempt + 1, Err: err}
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, string(lastErr.Kind))
	metrics.LLMInvocations.WithLabelValues(a.Name, string(lastErr.Kind)).Inc()
	metrics.LLMDuration.WithLabelValues(a.Name).Observe(time.Since(start).Seconds())
	log.Warn().
		Str("provider", a.Name).
		Str("model", model).
		Int("attempts", lastErr.Attempts).
		Err(lastErr).
		Msg("LLM call exhausted")
	return "", lastErr
}

func (iv *Invoker) attempt(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	ctx, cancel := iv.withTimeout(ctx)
	defer cancel()

	resp, err := iv.send(ctx, a, credential, msgs, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", transportError(ctx, a, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(a, resp, body)
	}

	text, err := a.ParseResponse(body)
	if err != nil {
		return "", &Error{Provider: a.Name, Kind: KindEmpty, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Provider: a.Name, Kind: KindEmpty, Status: resp.StatusCode, Message: "empty completion"}
	}
	return text, nil
}

func (iv *Invoker) send(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions, stream bool) (*http.Response, error) {
	body, err := a.BuildRequest(msgs, opts, stream)
	if err != nil {
		return nil, &Error{Provider: a.Name, Kind: KindBadRequest, Message: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL(opts), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: a.Name, Kind: KindBadRequest, Message: "create request", Err: err}
	}
	for k, v := range a.Headers(credential) {
		req.Header[k] = v
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := iv.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, a, err)
	}
	return resp, nil
}

func (iv *Invoker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if iv.policy.Timeout > 0 {
		return context.WithTimeout(ctx, iv.policy.Timeout)
	}
	return context.WithCancel(ctx)
}

func statusError(a *providers.Adapter, resp *http.Response, body []byte) *Error {
	msg := a.ParseError(body)
	return &Error{
		Provider:   a.Name,
		Kind:       classifyStatus(resp.StatusCode),
		Status:     resp.StatusCode,
		Message:    msg,
		RetryAfter: ParseRetryHint(resp.Header.Get("Retry-After"), string(body)),
	}
}

func transportError(ctx context.Context, a *providers.Adapter, err error) *Error {
	kind := KindTransport
	// A caller cancellation is final; a per-call deadline is a transient timeout.
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		kind = KindCanceled
	}
	return &Error{Provider: a.Name, Kind: kind, Message: err.Error(), Err: err}
}

func asError(a *providers.Adapter, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Provider: a.Name, Kind: KindTransport, Message: err.Error(), Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
