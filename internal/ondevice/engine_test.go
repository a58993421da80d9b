package ondevice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/pkg/models"
)

type fakeRuntime struct {
	probeErr  error
	loadErr   error
	loadDelay time.Duration
	loads     int32
	unloads   int32
}

func (f *fakeRuntime) Probe(context.Context) error { return f.probeErr }

func (f *fakeRuntime) Load(ctx context.Context, id string) (Model, error) {
	atomic.AddInt32(&f.loads, 1)
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeModel{rt: f, id: id}, nil
}

type fakeModel struct {
	rt *fakeRuntime
	id string
}

func (m *fakeModel) Generate(ctx context.Context, msgs []models.ChatMessage, _ models.CompletionOptions, onToken func(string)) (string, error) {
	if len(msgs) > 0 && msgs[len(msgs)-1].Content == "block" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	out := m.id + ":" + msgs[len(msgs)-1].Content
	if onToken != nil {
		onToken(out)
	}
	return out, nil
}

func (m *fakeModel) Unload() error {
	atomic.AddInt32(&m.rt.unloads, 1)
	return nil
}

func TestUnsupportedWithoutRuntime(t *testing.T) {
	e := NewEngine(nil, "m", 0)
	err := e.Supported(context.Background())
	assert.True(t, errors.Is(err, ErrNoGPU) || errors.Is(err, ErrRuntimeUnavailable))
	assert.Error(t, e.EnsureLoaded(context.Background()))
}

func TestProbeErrorIsSurfaced(t *testing.T) {
	e := NewEngine(&fakeRuntime{probeErr: ErrNoGPU}, "m", 0)
	assert.ErrorIs(t, e.EnsureLoaded(context.Background()), ErrNoGPU)
	assert.False(t, e.Status(context.Background()).Supported)
}

func TestEnsureLoadedSharesOneLoad(t *testing.T) {
	rt := &fakeRuntime{loadDelay: 50 * time.Millisecond}
	e := NewEngine(rt, "phi-3", time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.EnsureLoaded(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&rt.loads))
	st := e.Status(context.Background())
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, "phi-3", st.ModelID)

	out, err := e.Generate(context.Background(), []models.ChatMessage{{Role: "user", Content: "hi"}}, models.CompletionOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "phi-3:hi", out)
}

func TestLoadFailureIsReported(t *testing.T) {
	e := NewEngine(&fakeRuntime{loadErr: ErrOutOfMemory}, "big", time.Second)
	assert.ErrorIs(t, e.EnsureLoaded(context.Background()), ErrOutOfMemory)
	assert.Equal(t, StateFailed, e.Status(context.Background()).State)

	_, err := e.Generate(context.Background(), nil, models.CompletionOptions{}, nil)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadDifferentModelRequiresSwitch(t *testing.T) {
	rt := &fakeRuntime{}
	e := NewEngine(rt, "a", time.Second)
	require.NoError(t, e.Load(context.Background(), "a"))
	assert.ErrorIs(t, e.Load(context.Background(), "b"), ErrModelLoaded)

	require.NoError(t, e.Switch(context.Background(), "b"))
	assert.Equal(t, "b", e.Status(context.Background()).ModelID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rt.unloads))
	assert.Equal(t, int32(2), atomic.LoadInt32(&rt.loads))
}

func TestUnloadInterruptsGeneration(t *testing.T) {
	e := NewEngine(&fakeRuntime{}, "a", time.Second)
	require.NoError(t, e.EnsureLoaded(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Generate(context.Background(), []models.ChatMessage{{Role: "user", Content: "block"}}, models.CompletionOptions{}, nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return e.Status(context.Background()).InFlight == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Unload())
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, StateIdle, e.Status(context.Background()).State)
	assert.ErrorIs(t, e.Unload(), ErrNotLoaded)
}

func TestGenerateHonorsCallerCancellation(t *testing.T) {
	e := NewEngine(&fakeRuntime{}, "a", time.Second)
	require.NoError(t, e.EnsureLoaded(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Generate(ctx, []models.ChatMessage{{Role: "user", Content: "block"}}, models.CompletionOptions{}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ctxRuntime fails its probe with the caller's context error.
type ctxRuntime struct {
	fakeRuntime
	probes int32
}

func (c *ctxRuntime) Probe(ctx context.Context) error {
	atomic.AddInt32(&c.probes, 1)
	return ctx.Err()
}

func TestSupportedRetriesAfterCanceledProbe(t *testing.T) {
	rt := &ctxRuntime{}
	e := NewEngine(rt, "a", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Supported(ctx), context.Canceled)

	assert.NoError(t, e.Supported(context.Background()))
	assert.NoError(t, e.Supported(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&rt.probes))
	require.NoError(t, e.EnsureLoaded(context.Background()))
}
