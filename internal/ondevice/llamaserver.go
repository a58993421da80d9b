package ondevice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/llm"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

// ErrWeightsMissing is returned when no weights file exists for a model.
var ErrWeightsMissing = errors.New("ondevice: model weights not found")

// LlamaServerConfig configures the llama.cpp server runtime.
type LlamaServerConfig struct {
	Binary    string   // executable name or path, looked up in PATH
	ModelDir  string   // directory holding <model>.gguf files
	Host      string   // bind address, loopback by default
	Port      int      // 0 picks a free port per load
	GPULayers int      // layers offloaded to the GPU
	AllowCPU  bool     // run without a GPU device node
	Args      []string // extra server flags

	// GenerateTimeout bounds one completion. Zero means no bound beyond ctx.
	GenerateTimeout time.Duration
}

// LlamaServer runs each loaded model as a local llama-server process and
// talks to its OpenAI-compatible endpoint.
type LlamaServer struct {
	cfg LlamaServerConfig
	inv *llm.Invoker
}

// NewLlamaServer creates the runtime. Nothing is started until Load.
func NewLlamaServer(cfg LlamaServerConfig) *LlamaServer {
	if cfg.Binary == "" {
		cfg.Binary = "llama-server"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &LlamaServer{
		cfg: cfg,
		inv: llm.NewInvoker(nil, llm.Policy{Timeout: cfg.GenerateTimeout}),
	}
}

// Probe checks that the server binary is installed and that the host has
// GPU compute, unless CPU inference is allowed.
func (l *LlamaServer) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(l.cfg.Binary); err != nil {
		return fmt.Errorf("%w: %s not found", ErrRuntimeUnavailable, l.cfg.Binary)
	}
	if !l.cfg.AllowCPU && !HostHasGPU() {
		return ErrNoGPU
	}
	return nil
}

// Load starts a server process for modelID and waits until it reports
// healthy or ctx ends.
func (l *LlamaServer) Load(ctx context.Context, modelID string) (Model, error) {
	path, err := l.weightsPath(modelID)
	if err != nil {
		return nil, err
	}

	port := l.cfg.Port
	if port == 0 {
		if port, err = freePort(l.cfg.Host); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
	}

	args := []string{
		"-m", path,
		"--host", l.cfg.Host,
		"--port", strconv.Itoa(port),
		"-ngl", strconv.Itoa(l.cfg.GPULayers),
	}
	args = append(args, l.cfg.Args...)

	// The process outlives the load call, so it gets its own context.
	pctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(pctx, l.cfg.Binary, args...)
	out := &tailBuffer{max: 4096}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %v", ErrRuntimeUnavailable, l.cfg.Binary, err)
	}

	m := &llamaModel{
		id:     modelID,
		cmd:    cmd,
		cancel: cancel,
		exited: make(chan struct{}),
		inv:    l.inv,
	}
	go func() {
		m.waitErr = cmd.Wait()
		close(m.exited)
	}()

	endpoint := fmt.Sprintf("http://%s", net.JoinHostPort(l.cfg.Host, strconv.Itoa(port)))
	if err := waitForHealth(ctx, endpoint, m.exited); err != nil {
		m.stop()
		if isOOM(out.String()) {
			return nil, fmt.Errorf("%w: %s", ErrOutOfMemory, modelID)
		}
		if tail := strings.TrimSpace(out.String()); tail != "" {
			return nil, fmt.Errorf("%w (%s)", err, lastLine(tail))
		}
		return nil, err
	}

	a := providers.New(models.ProviderOllama, providers.Options{BaseURL: endpoint + "/v1", Model: modelID})
	a.Name = string(models.ProviderOnDevice)
	m.adapter = a

	log.Info().
		Str("model", modelID).
		Int("pid", cmd.Process.Pid).
		Str("endpoint", endpoint).
		Msg("🦙 llama-server ready")
	return m, nil
}

// weightsPath resolves a model id to a .gguf file. An id that is already a
// path to an existing file is used as is.
func (l *LlamaServer) weightsPath(modelID string) (string, error) {
	candidates := []string{modelID}
	if !strings.HasSuffix(modelID, ".gguf") {
		candidates = append(candidates, filepath.Join(l.cfg.ModelDir, modelID+".gguf"))
	}
	candidates = append(candidates, filepath.Join(l.cfg.ModelDir, modelID))
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrWeightsMissing, modelID, l.cfg.ModelDir)
}

// ── Process helpers ─────────────────────────────────────────

func waitForHealth(ctx context.Context, endpoint string, exited <-chan struct{}) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llama-server not ready: %w", ctx.Err())
		case <-exited:
			return fmt.Errorf("%w: llama-server exited before ready", ErrRuntimeUnavailable)
		case <-ticker.C:
		}
	}
}

func freePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func isOOM(output string) bool {
	s := strings.ToLower(output)
	return strings.Contains(s, "out of memory") || strings.Contains(s, "failed to allocate")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// ── Loaded model ────────────────────────────────────────────

type llamaModel struct {
	id      string
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	exited  chan struct{}
	waitErr error
	adapter *providers.Adapter
	inv     *llm.Invoker

	stopOnce sync.Once
}

func (m *llamaModel) Generate(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onToken func(string)) (string, error) {
	select {
	case <-m.exited:
		return "", fmt.Errorf("%w: llama-server for %s has exited", ErrNotLoaded, m.id)
	default:
	}
	opts.Model = ""
	if onToken != nil {
		return m.inv.Stream(ctx, m.adapter, "", msgs, opts, onToken)
	}
	return m.inv.Invoke(ctx, m.adapter, "", msgs, opts)
}

func (m *llamaModel) Unload() error {
	m.stop()
	return nil
}

// stop asks the process to exit, then kills it after a grace period.
func (m *llamaModel) stop() {
	m.stopOnce.Do(func() {
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-m.exited:
		case <-time.After(3 * time.Second):
			log.Warn().Str("model", m.id).Msg("llama-server did not exit after interrupt, killing")
		}
		m.cancel()
		<-m.exited
	})
}
