package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/internal/store"
	"github.com/agentoven/aria/pkg/models"
)

func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	mem := store.NewMemoryStore("")
	t.Cleanup(func() { mem.Close() })

	sq, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "aria.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]store.Store{"memory": mem, "sqlite": sq}
}

func TestProviderConfigCRUD(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetProviderConfig(ctx, "alice")
			assert.True(t, store.IsNotFound(err), "GetProviderConfig() error = %v, want not found", err)

			cfg := &models.StoredConfiguration{
				Provider:   models.ProviderAzureOpenAI,
				APIKey:     "azure-key",
				Model:      "gpt-4o",
				BaseURL:    "https://example.openai.azure.com",
				Deployment: "prod",
			}
			require.NoError(t, s.PutProviderConfig(ctx, "alice", cfg))

			got, err := s.GetProviderConfig(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, models.ProviderAzureOpenAI, got.Provider)
			assert.Equal(t, "azure-key", got.APIKey)
			assert.Equal(t, "prod", got.Deployment)
			assert.False(t, got.UpdatedAt.IsZero())

			cfg.Model = "gpt-4o-mini"
			require.NoError(t, s.PutProviderConfig(ctx, "alice", cfg))
			got, err = s.GetProviderConfig(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "gpt-4o-mini", got.Model)

			all, err := s.ListProviderConfigs(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			require.NoError(t, s.DeleteProviderConfig(ctx, "alice"))
			err = s.DeleteProviderConfig(ctx, "alice")
			assert.True(t, store.IsNotFound(err))
		})
	}
}

func TestMemorySnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := store.NewMemoryStore(dir)
	require.NoError(t, s.PutProviderConfig(ctx, store.DefaultProfile, &models.StoredConfiguration{Provider: models.ProviderMistral, APIKey: "k"}))
	require.NoError(t, s.Close())

	reopened := store.NewMemoryStore(dir)
	defer reopened.Close()
	got, err := reopened.GetProviderConfig(ctx, store.DefaultProfile)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderMistral, got.Provider)
}

func TestConfigHolder(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore("")
	defer backing.Close()
	require.NoError(t, backing.PutProviderConfig(ctx, "bob", &models.StoredConfiguration{Provider: models.ProviderGroq, APIKey: "gsk_x"}))

	h := store.NewConfigHolder(backing)
	assert.Nil(t, h.Get("bob"))
	require.NoError(t, h.Load(ctx))
	require.NotNil(t, h.Get("bob"))
	assert.Equal(t, models.ProviderGroq, h.Get("bob").Provider)

	// returned values are copies
	h.Get("bob").APIKey = "mutated"
	assert.Equal(t, "gsk_x", h.Get("bob").APIKey)

	require.NoError(t, h.Set(ctx, "carol", &models.StoredConfiguration{Provider: models.ProviderAnthropic, APIKey: "sk-ant-x"}))
	assert.Equal(t, models.ProviderAnthropic, h.Get("carol").Provider)
	stored, err := backing.GetProviderConfig(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-x", stored.APIKey)

	require.NoError(t, h.Delete(ctx, "carol"))
	require.NoError(t, h.Delete(ctx, "carol"))
	assert.Nil(t, h.Get("carol"))
}
