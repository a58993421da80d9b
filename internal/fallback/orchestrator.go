// Package fallback sequences LLM calls across three tiers: the configured
// provider, the default local provider, then the on-device engine. Tiers run
// strictly one after another.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentoven/aria/internal/metrics"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

var tracer = otel.Tracer("aria/fallback")

// Tier names a position in the fallback chain.
type Tier string

const (
	TierConfigured Tier = "configured"
	TierLocal      Tier = "local"
	TierOnDevice   Tier = "on-device"
)

// Invoker performs a single-provider call.
// Implementation: llm.Invoker
type Invoker interface {
	Invoke(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error)
	Stream(ctx context.Context, a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, error)
}

// OnDevice is the last-resort engine.
// Implementation: ondevice.Engine
type OnDevice interface {
	Supported(ctx context.Context) error
	EnsureLoaded(ctx context.Context) error
	Generate(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onToken func(string)) (string, error)
}

// Attempt records one tier's outcome.
type Attempt struct {
	Tier     Tier
	Provider string
	Skipped  bool
	Err      error
}

// Error is returned when no tier produced text. Attempts are in tier order.
type Error struct {
	Attempts []Attempt
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s(%s): %v", a.Tier, a.Provider, a.Err))
	}
	return "all fallback tiers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the last attempt's error.
func (e *Error) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Result is a successful completion and where it came from.
type Result struct {
	Text     string
	Provider string
	Tier     Tier
}

// Orchestrator runs the fallback chain.
type Orchestrator struct {
	resolver *providers.Resolver
	inv      Invoker
	device   OnDevice
}

// New creates an orchestrator. device may be nil.
func New(resolver *providers.Resolver, inv Invoker, device OnDevice) *Orchestrator {
	return &Orchestrator{resolver: resolver, inv: inv, device: device}
}

// Generate returns the first tier's successful completion.
func (o *Orchestrator) Generate(ctx context.Context, cfg *models.StoredConfiguration, msgs []models.ChatMessage, opts models.CompletionOptions) (*Result, error) {
	return o.run(ctx, cfg, msgs, opts, nil)
}

// Stream is Generate with incremental output. If a tier fails after it has
// emitted output, the error is returned without trying later tiers.
func (o *Orchestrator) Stream(ctx context.Context, cfg *models.StoredConfiguration, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (*Result, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return o.run(ctx, cfg, msgs, opts, onChunk)
}

type tierCall func(ctx context.Context, emit func(string)) (string, error)

type tierPlan struct {
	tier     Tier
	provider string
	call     tierCall
	// skip returns a capability error when the tier cannot run at all.
	skip func(ctx context.Context) error
}

func (o *Orchestrator) run(ctx context.Context, cfg *models.StoredConfiguration, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (*Result, error) {
	ctx, span := tracer.Start(ctx, "fallback.generate")
	defer span.End()

	fe := &Error{}
	primary := o.resolver.Resolve(cfg)
	credential := ""
	if cfg != nil {
		credential = strings.TrimSpace(cfg.APIKey)
	}

	tiers := []tierPlan{{
		tier:     tierOf(primary),
		provider: primary.Name,
		call:     o.remote(primary, credential, msgs, opts, onChunk != nil),
	}}

	// The local tier only makes sense when the primary was a remote provider
	// chosen through a credential.
	if cfg.HasCredential() && !primary.Local {
		local := o.resolver.Local()
		lopts := opts
		lopts.Model = ""
		tiers = append(tiers, tierPlan{tier: TierLocal, provider: local.Name, call: o.remote(local, "", msgs, lopts, onChunk != nil)})
	}

	if o.device != nil {
		dopts := opts
		dopts.Model = ""
		tiers = append(tiers, tierPlan{
			tier:     TierOnDevice,
			provider: string(models.ProviderOnDevice),
			skip:     o.device.Supported,
			call: func(ctx context.Context, emit func(string)) (string, error) {
				if err := o.device.EnsureLoaded(ctx); err != nil {
					return "", err
				}
				return o.device.Generate(ctx, msgs, dopts, emit)
			},
		})
	}

	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			fe.Attempts = append(fe.Attempts, Attempt{Tier: t.tier, Provider: t.provider, Skipped: true, Err: err})
			break
		}
		if t.skip != nil {
			if err := t.skip(ctx); err != nil {
				metrics.FallbackTier.WithLabelValues(string(t.tier), "skipped").Inc()
				fe.Attempts = append(fe.Attempts, Attempt{Tier: t.tier, Provider: t.provider, Skipped: true, Err: err})
				log.Debug().Str("tier", string(t.tier)).Err(err).Msg("Fallback tier unavailable")
				continue
			}
		}

		emitted := false
		var emit func(string)
		if onChunk != nil {
			emit = func(s string) {
				emitted = true
				onChunk(s)
			}
		}

		text, err := t.call(ctx, emit)
		if err == nil && strings.TrimSpace(text) != "" {
			metrics.FallbackTier.WithLabelValues(string(t.tier), "ok").Inc()
			span.SetAttributes(attribute.String("fallback.tier", string(t.tier)), attribute.String("fallback.provider", t.provider))
			if len(fe.Attempts) > 0 {
				log.Info().Str("tier", string(t.tier)).Str("provider", t.provider).Msg("Fallback tier answered")
			}
			return &Result{Text: text, Provider: t.provider, Tier: t.tier}, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}

		metrics.FallbackTier.WithLabelValues(string(t.tier), "failed").Inc()
		fe.Attempts = append(fe.Attempts, Attempt{Tier: t.tier, Provider: t.provider, Err: err})
		log.Warn().Str("tier", string(t.tier)).Str("provider", t.provider).Err(err).Msg("Fallback tier failed")
		if emitted {
			break
		}
	}

	span.RecordError(fe)
	return nil, fe
}

func (o *Orchestrator) remote(a *providers.Adapter, credential string, msgs []models.ChatMessage, opts models.CompletionOptions, stream bool) tierCall {
	return func(ctx context.Context, emit func(string)) (string, error) {
		if stream {
			return o.inv.Stream(ctx, a, credential, msgs, opts, emit)
		}
		return o.inv.Invoke(ctx, a, credential, msgs, opts)
	}
}

func tierOf(a *providers.Adapter) Tier {
	if a.Local {
		return TierLocal
	}
	return TierConfigured
}

// ── Binding ─────────────────────────────────────────────────

// Binding is the orchestrator bound to one configuration snapshot. It
// satisfies contracts.StreamCompleter.
type Binding struct {
	o   *Orchestrator
	cfg *models.StoredConfiguration

	mu   sync.Mutex
	last *Result
}

// Bind returns a completer for cfg. The configuration is copied.
func (o *Orchestrator) Bind(cfg *models.StoredConfiguration) *Binding {
	var snap *models.StoredConfiguration
	if cfg != nil {
		c := *cfg
		snap = &c
	}
	return &Binding{o: o, cfg: snap}
}

// Complete implements contracts.Completer.
func (b *Binding) Complete(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	r, err := b.o.Generate(ctx, b.cfg, msgs, opts)
	return b.record(r, err)
}

// CompleteStream implements contracts.StreamCompleter.
func (b *Binding) CompleteStream(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, error) {
	r, err := b.o.Stream(ctx, b.cfg, msgs, opts, onChunk)
	return b.record(r, err)
}

// LastProvider returns the provider that answered the most recent call.
func (b *Binding) LastProvider() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return ""
	}
	return b.last.Provider
}

func (b *Binding) record(r *Result, err error) (string, error) {
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.last = r
	b.mu.Unlock()
	return r.Text, nil
}
