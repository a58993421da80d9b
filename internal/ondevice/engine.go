// Package ondevice manages the in-process inference engine used as the last
// fallback tier. The engine holds at most one loaded model; inference itself
// is delegated to a pluggable Runtime.
package ondevice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/metrics"
	"github.com/agentoven/aria/pkg/models"
)

var (
	ErrNoGPU              = errors.New("ondevice: no compatible GPU compute on this host")
	ErrRuntimeUnavailable = errors.New("ondevice: inference runtime unavailable")
	ErrOutOfMemory        = errors.New("ondevice: out of memory while loading model")
	ErrNoNetwork          = errors.New("ondevice: network unavailable to fetch model weights")
	ErrNotLoaded          = errors.New("ondevice: no model loaded")
	ErrModelLoaded        = errors.New("ondevice: another model is loaded, switch required")
)

// Runtime loads models on local compute.
type Runtime interface {
	// Probe returns nil when the host can run models, else a capability error.
	Probe(ctx context.Context) error
	// Load brings a model into memory.
	Load(ctx context.Context, modelID string) (Model, error)
}

// Model is a loaded on-device model.
type Model interface {
	// Generate produces a completion, calling onToken for each piece when non-nil.
	// It must return promptly once ctx is done.
	Generate(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onToken func(string)) (string, error)
	// Unload releases the model's memory.
	Unload() error
}

// State is the engine lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Status is a snapshot of the engine.
type Status struct {
	State     State  `json:"state"`
	ModelID   string `json:"modelId,omitempty"`
	Supported bool   `json:"supported"`
	Cause     string `json:"cause,omitempty"`
	InFlight  int    `json:"inFlight"`
}

// Engine is the process-wide on-device engine.
type Engine struct {
	rt           Runtime
	defaultModel string
	loadTimeout  time.Duration

	probeMu  sync.Mutex
	probed   bool
	probeErr error

	mu        sync.Mutex
	model     Model
	modelID   string
	loading   chan struct{}
	loadingID string
	loadErr   error
	active    map[uint64]context.CancelFunc
	nextGen   uint64

	// gen is read-locked by every generation; Unload write-locks it to wait
	// for interrupted generations to return.
	gen sync.RWMutex
}

// NewEngine creates an engine. A nil runtime makes the engine unsupported.
func NewEngine(rt Runtime, defaultModel string, loadTimeout time.Duration) *Engine {
	if loadTimeout <= 0 {
		loadTimeout = 5 * time.Minute
	}
	return &Engine{
		rt:           rt,
		defaultModel: defaultModel,
		loadTimeout:  loadTimeout,
		active:       make(map[uint64]context.CancelFunc),
	}
}

// Supported returns nil when the host can run on-device inference. The
// result is cached once a probe completes; a probe cut short by its
// context is retried on the next call.
func (e *Engine) Supported(ctx context.Context) error {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if e.probed {
		return e.probeErr
	}

	var err error
	switch {
	case e.rt != nil:
		err = e.rt.Probe(ctx)
	case HostHasGPU():
		err = ErrRuntimeUnavailable
	default:
		err = ErrNoGPU
	}
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	e.probed = true
	e.probeErr = err
	return err
}

// EnsureLoaded loads the current or default model if nothing is loaded and
// waits for it. Concurrent callers share one load.
func (e *Engine) EnsureLoaded(ctx context.Context) error {
	return e.load(ctx, "")
}

// Load loads modelID. It fails with ErrModelLoaded when a different model is
// loaded; use Switch for that.
func (e *Engine) Load(ctx context.Context, modelID string) error {
	return e.load(ctx, modelID)
}

// Switch interrupts in-flight generation, unloads the current model and
// loads modelID.
func (e *Engine) Switch(ctx context.Context, modelID string) error {
	e.mu.Lock()
	same := e.model != nil && e.modelID == modelID
	e.mu.Unlock()
	if same {
		return nil
	}
	if err := e.Unload(); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	return e.load(ctx, modelID)
}

func (e *Engine) load(ctx context.Context, modelID string) error {
	if err := e.Supported(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	if modelID == "" {
		modelID = e.modelID
		if modelID == "" {
			modelID = e.defaultModel
		}
	}
	if e.model != nil {
		loaded := e.modelID
		e.mu.Unlock()
		if loaded == modelID {
			return nil
		}
		return ErrModelLoaded
	}
	ch := e.loading
	if ch == nil {
		ch = make(chan struct{})
		e.loading = ch
		e.loadingID = modelID
		go e.doLoad(modelID, ch)
	} else if e.loadingID != modelID {
		e.mu.Unlock()
		return ErrModelLoaded
	}
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil && e.modelID == modelID {
		return nil
	}
	if e.loadErr != nil {
		return e.loadErr
	}
	return ErrNotLoaded
}

func (e *Engine) doLoad(modelID string, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), e.loadTimeout)
	defer cancel()

	start := time.Now()
	m, err := e.rt.Load(ctx, modelID)

	e.mu.Lock()
	if err != nil {
		e.loadErr = err
		log.Warn().Str("model", modelID).Err(err).Msg("On-device model load failed")
	} else {
		e.model = m
		e.modelID = modelID
		e.loadErr = nil
		metrics.OnDeviceLoaded.Set(1)
		log.Info().Str("model", modelID).Dur("took", time.Since(start)).Msg("On-device model loaded")
	}
	e.loading = nil
	e.loadingID = ""
	close(done)
	e.mu.Unlock()
}

// Generate runs one completion on the loaded model.
func (e *Engine) Generate(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onToken func(string)) (string, error) {
	e.mu.Lock()
	m := e.model
	if m == nil {
		e.mu.Unlock()
		return "", ErrNotLoaded
	}
	e.gen.RLock()
	gctx, cancel := context.WithCancel(ctx)
	id := e.nextGen
	e.nextGen++
	e.active[id] = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.gen.RUnlock()
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
	}()
	return m.Generate(gctx, msgs, opts, onToken)
}

// Interrupt cancels every in-flight generation.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.active {
		cancel()
	}
}

// Unload interrupts in-flight generation, waits for it to return and
// releases the model.
func (e *Engine) Unload() error {
	e.mu.Lock()
	m := e.model
	id := e.modelID
	if m == nil {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.model = nil
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()

	e.gen.Lock()
	defer e.gen.Unlock()
	metrics.OnDeviceLoaded.Set(0)
	log.Info().Str("model", id).Msg("On-device model unloaded")
	return m.Unload()
}

// Status reports the current state.
func (e *Engine) Status(ctx context.Context) Status {
	st := Status{State: StateIdle}
	if err := e.Supported(ctx); err != nil {
		st.Cause = err.Error()
	} else {
		st.Supported = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st.InFlight = len(e.active)
	switch {
	case e.model != nil:
		st.State = StateReady
		st.ModelID = e.modelID
	case e.loading != nil:
		st.State = StateLoading
		st.ModelID = e.loadingID
	case e.loadErr != nil:
		st.State = StateFailed
		st.Cause = e.loadErr.Error()
	}
	return st
}
