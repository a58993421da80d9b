package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Local.BaseURL)
	assert.Equal(t, 2, cfg.Invocation.Retries)
	assert.Equal(t, 20*time.Second, cfg.Invocation.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.Invocation.RateLimitWait)
	assert.Equal(t, 20, cfg.Pipeline.HistoryWindow)
	assert.Equal(t, 10, cfg.Pipeline.ChartHistory)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoadFromEnvAndFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("ARIA_PORT=9090\nARIA_LOCAL_MODEL=from-file\n"), 0o600))
	t.Setenv("ARIA_LOCAL_MODEL", "from-env")
	t.Setenv("ARIA_API_KEYS", "k1,k2")
	t.Setenv("ARIA_LLM_TIMEOUT", "30s")
	t.Cleanup(func() { os.Unsetenv("ARIA_PORT") })

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "from-env", cfg.Local.Model)
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys)
	assert.Equal(t, 30*time.Second, cfg.Invocation.Timeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"storage driver", "ARIA_STORAGE_DRIVER", "postgres"},
		{"vector store", "ARIA_VECTOR_STORE", "faiss"},
		{"pgvector without url", "ARIA_VECTOR_STORE", "pgvector"},
		{"embedding driver", "ARIA_EMBEDDING_DRIVER", "cohere"},
		{"history", "ARIA_HISTORY_WINDOW", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
