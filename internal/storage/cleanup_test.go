package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(p, 0755))
	}
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t)
	models := filepath.Join(env.base, "models")
	ollama := filepath.Join(env.base, "ollama")
	now := time.Now()

	old := filepath.Join(models, fmt.Sprintf(".tmp_org-old_%d", now.Add(-48*time.Hour).Unix()))
	oldSuffixed := filepath.Join(ollama, fmt.Sprintf(".tmp_llama_%d.1", now.Add(-48*time.Hour).Unix()))
	fresh := filepath.Join(models, fmt.Sprintf(".tmp_org-new_%d", now.Add(-time.Minute).Unix()))
	active := filepath.Join(models, fmt.Sprintf(".tmp_org-active_%d", now.Add(-72*time.Hour).Unix()))
	published := filepath.Join(models, "org-model")
	mkdirs(t, old, oldSuffixed, fresh, active, published)

	// Pretend another process is mid-transfer into the active directory.
	held, err := NewLock(env.lock, time.Second).TryAcquire(context.Background(),
		Holder{Operation: "acquire", Staging: active})
	require.NoError(t, err)
	defer held.Release()

	assert.ElementsMatch(t, []string{old, oldSuffixed, fresh, active}, env.mgr.StagingDirs())

	n, err := env.mgr.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{fresh, active}, env.mgr.StagingDirs())

	assert.NoDirExists(t, old)
	assert.NoDirExists(t, oldSuffixed)
	assert.DirExists(t, fresh)
	assert.DirExists(t, active)
	assert.DirExists(t, published)
}

func TestCleanupFallsBackToMtime(t *testing.T) {
	env := newTestEnv(t)
	odd := filepath.Join(env.base, "models", ".tmp_no-timestamp")
	mkdirs(t, odd)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(odd, past, past))

	n, err := env.mgr.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, odd)
}

func TestCleanupMissingProviderDirs(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.mgr.Cleanup(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruneBackupsAge(t *testing.T) {
	env := newTestEnv(t)
	models := filepath.Join(env.base, "models")
	now := time.Now()

	oldBackup := filepath.Join(models, fmt.Sprintf("org-model.backup.%d", now.Add(-10*24*time.Hour).Unix()))
	newBackup := filepath.Join(models, fmt.Sprintf("org-model.backup.%d", now.Add(-time.Hour).Unix()))
	mkdirs(t, oldBackup, newBackup)

	n, err := env.mgr.PruneBackups(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, oldBackup)
	assert.DirExists(t, newBackup)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.Acquire(ctx, PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		writeFiles(map[string]string{"w.bin": "12345"}))
	require.NoError(t, err)

	models := filepath.Join(env.base, "models")
	mkdirs(t,
		filepath.Join(models, ".tmp_org-other_1700000000"),
		filepath.Join(models, "org-model.backup.1700000000"),
		filepath.Join(models, "manual-copy"),
	)

	list, err := env.mgr.ListModels(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)

	byName := map[string]Model{}
	for _, m := range list {
		byName[m.Name] = m
	}
	withReceipt := byName["org/model"]
	require.NotNil(t, withReceipt.Receipt)
	assert.Equal(t, "huggingface", withReceipt.Provider)
	assert.Equal(t, filepath.Join(models, "org-model"), withReceipt.Path)
	// Receipt bytes count toward the size too
	assert.Greater(t, withReceipt.SizeBytes, int64(5))

	manual := byName["manual-copy"]
	assert.Nil(t, manual.Receipt)
	assert.NotEmpty(t, manual.Provider)

	_, err = env.mgr.ListModels(ctx, "llamacpp")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestListModelsCustomLister(t *testing.T) {
	root := t.TempDir()
	var gotRoot string
	env := newTestEnv(t)
	mgr, err := New(env.cfg, WithInspector(env.insp), WithLister("ollama", func(r string) ([]Model, error) {
		gotRoot = r
		return []Model{{Name: "llama3:8b", Path: root, SizeBytes: 42}}, nil
	}))
	require.NoError(t, err)

	list, err := mgr.ListModels(context.Background(), "ollama")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ollama", list[0].Provider)
	assert.Equal(t, int64(42), list[0].SizeBytes)
	assert.Equal(t, filepath.Join(env.base, "ollama"), gotRoot)
}
