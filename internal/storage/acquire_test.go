package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"
)

func writeFiles(files map[string]string) TransferFunc {
	return func(ctx context.Context, dir string) error {
		for name, content := range files {
			p := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(p, []byte(content), 0644); err != nil {
				return err
			}
		}
		return nil
	}
}

func stagingEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp_") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestAcquirePublishes(t *testing.T) {
	env := newTestEnv(t)
	models := filepath.Join(env.base, "models")

	var seenStaging string
	final, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model", EstimatedSizeBytes: 1024, Tool: "huggingface-cli"},
		func(ctx context.Context, dir string) error {
			seenStaging = dir
			assert.True(t, strings.HasPrefix(filepath.Base(dir), ".tmp_org-model_"), dir)
			return writeFiles(map[string]string{"config.json": "{}", "weights/model.safetensors": "abc"})(ctx, dir)
		})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(models, "org-model"), final)
	assert.Equal(t, models, filepath.Dir(seenStaging))
	assert.NoDirExists(t, seenStaging)
	assert.Empty(t, stagingEntries(t, models))
	assert.FileExists(t, filepath.Join(final, "weights", "model.safetensors"))

	receipt, err := ReadReceipt(final)
	require.NoError(t, err)
	assert.Equal(t, "org/model", receipt.ModelID)
	assert.Equal(t, "huggingface", receipt.Provider)
	assert.Equal(t, int64(5), receipt.SizeBytes)
	assert.Equal(t, 2, receipt.Files)
	assert.Equal(t, "huggingface-cli", receipt.Tool)

	// Lock is free again
	_, held, err := env.mgr.Lock().Holder()
	require.NoError(t, err)
	assert.False(t, held)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.operations.WithLabelValues("acquire", "success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(env.metrics.publishedBytes.WithLabelValues("huggingface")))
}

func TestAcquireTransferFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	models := filepath.Join(env.base, "models")
	cause := errors.New("network unreachable")

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(ctx context.Context, dir string) error {
			_ = writeFiles(map[string]string{"partial.bin": "x"})(ctx, dir)
			return cause
		})

	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, cause)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "org/model", te.ModelID)

	assert.Empty(t, stagingEntries(t, models))
	assert.NoDirExists(t, filepath.Join(models, "org-model"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.operations.WithLabelValues("acquire", "error")))
}

func TestAcquireFailedRerunKeepsPreviousArtifact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := PlacementRequest{Provider: "huggingface", ModelID: "org/model"}

	final, err := env.mgr.Acquire(ctx, req, writeFiles(map[string]string{"weights.bin": "v1"}))
	require.NoError(t, err)

	_, err = env.mgr.Acquire(ctx, req, func(context.Context, string) error { return errors.New("boom") })
	require.ErrorIs(t, err, ErrTransferFailed)

	data, err := os.ReadFile(filepath.Join(final, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Empty(t, stagingEntries(t, filepath.Dir(final)))
}

func TestAcquireRepublishKeepsBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := PlacementRequest{Provider: "huggingface", ModelID: "org/model"}

	final, err := env.mgr.Acquire(ctx, req, writeFiles(map[string]string{"weights.bin": "v1"}))
	require.NoError(t, err)
	_, err = env.mgr.Acquire(ctx, req, writeFiles(map[string]string{"weights.bin": "v2"}))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(final, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	backups, err := filepath.Glob(final + ".backup.*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	old, err := os.ReadFile(filepath.Join(backups[0], "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(old))

	// Backups are not models
	list, err := env.mgr.ListModels(ctx, "huggingface")
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err := env.mgr.PruneBackups(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, backups[0])
	assert.DirExists(t, final)
}

func TestAcquireRefusesSanitizedNameCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	final, err := env.mgr.Acquire(ctx,
		PlacementRequest{Provider: "huggingface", ModelID: "foo-bar/baz"},
		writeFiles(map[string]string{"weights.bin": "first"}))
	require.NoError(t, err)

	ran := false
	other, err := env.mgr.Acquire(ctx,
		PlacementRequest{Provider: "huggingface", ModelID: "foo/bar-baz"},
		func(ctx context.Context, dir string) error {
			ran = true
			return writeFiles(map[string]string{"weights.bin": "second"})(ctx, dir)
		})
	require.ErrorIs(t, err, ErrPreexistingDataConflict)
	assert.Empty(t, other)
	assert.False(t, ran, "transfer must not start")
	assert.Contains(t, err.Error(), "foo-bar/baz")

	data, err := os.ReadFile(filepath.Join(final, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	backups, err := filepath.Glob(final + ".backup.*")
	require.NoError(t, err)
	assert.Empty(t, backups)
	assert.Empty(t, stagingEntries(t, filepath.Dir(final)))
}

func TestAcquireRepublishWithoutReceipt(t *testing.T) {
	env := newTestEnv(t)
	final := filepath.Join(env.base, "models", "org-model")
	require.NoError(t, os.MkdirAll(final, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(final, "weights.bin"), []byte("manual"), 0644))

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		writeFiles(map[string]string{"weights.bin": "fresh"}))
	require.NoError(t, err)

	backups, err := filepath.Glob(final + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestAcquireStagingSurvivesConcurrentCleanup(t *testing.T) {
	env := newTestEnv(t)

	final, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(ctx context.Context, dir string) error {
			// cleanup with no age threshold, as an operator running
			// "clean --older-than 0" would
			removed, err := env.mgr.Cleanup(0)
			require.NoError(t, err)
			assert.Zero(t, removed)
			assert.DirExists(t, dir)
			return writeFiles(map[string]string{"weights.bin": "x"})(ctx, dir)
		})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(final, "weights.bin"))
}

func TestAcquireCapacityFailureCreatesNoStaging(t *testing.T) {
	env := newTestEnv(t)
	env.insp.avail = 15 * gib
	called := false

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model", EstimatedSizeBytes: int64(10 * gib)},
		func(context.Context, string) error { called = true; return nil })

	require.ErrorIs(t, err, ErrInsufficientSpace)
	assert.False(t, called)
	assert.Empty(t, stagingEntries(t, filepath.Join(env.base, "models")))
}

func TestAcquireMountRequired(t *testing.T) {
	env := newTestEnv(t)
	env.insp.mounted = false
	called := false

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(context.Context, string) error { called = true; return nil })

	require.ErrorIs(t, err, ErrMountRequired)
	assert.False(t, called)
}

func TestAcquireSkipsMountCheckWhenNotRequired(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.RequireMount = false })
	env.insp.mounted = false

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		writeFiles(map[string]string{"a": "b"}))
	require.NoError(t, err)
}

func TestAcquireInvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	ok := writeFiles(map[string]string{"a": "b"})

	tests := []struct {
		name string
		req  PlacementRequest
		fn   TransferFunc
		want error
	}{
		{"empty provider", PlacementRequest{ModelID: "org/model"}, ok, ErrInvalidRequest},
		{"empty model", PlacementRequest{Provider: "huggingface"}, ok, ErrInvalidRequest},
		{"traversal model", PlacementRequest{Provider: "huggingface", ModelID: "../../etc"}, ok, ErrInvalidRequest},
		{"shell model", PlacementRequest{Provider: "huggingface", ModelID: "org/$(id)"}, ok, ErrInvalidRequest},
		{"backup name", PlacementRequest{Provider: "huggingface", ModelID: "org/model.backup.1700000000"}, ok, ErrInvalidRequest},
		{"nil transfer", PlacementRequest{Provider: "huggingface", ModelID: "org/model"}, nil, ErrInvalidRequest},
		{"unknown provider", PlacementRequest{Provider: "llamacpp", ModelID: "org/model"}, ok, ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.mgr.Acquire(context.Background(), tt.req, tt.fn)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAcquireLockBusy(t *testing.T) {
	env := newTestEnv(t)

	// A second open file description on the same path behaves like
	// another process.
	other, err := NewLock(env.lock, time.Second).TryAcquire(context.Background(),
		Holder{Operation: "acquire", ModelID: "other/model"})
	require.NoError(t, err)
	defer other.Release()

	start := time.Now()
	_, err = env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		writeFiles(map[string]string{"a": "b"}))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrLockBusy)
	assert.Less(t, elapsed, 2*time.Second)

	var busy *LockBusyError
	require.ErrorAs(t, err, &busy)
	require.NotNil(t, busy.Holder)
	assert.Equal(t, os.Getpid(), busy.Holder.PID)
	assert.Equal(t, "other/model", busy.Holder.ModelID)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.lockBusy))
}

func TestAcquireCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan string, 1)
	done := make(chan error, 1)

	go func() {
		_, err := env.mgr.Acquire(ctx,
			PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
			func(ctx context.Context, dir string) error {
				_ = writeFiles(map[string]string{"partial": "x"})(ctx, dir)
				started <- dir
				<-ctx.Done()
				return ctx.Err()
			})
		done <- err
	}()

	staging := <-started
	// The lock record names the staging directory while it runs.
	holder, held, err := env.mgr.Lock().Holder()
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, staging, holder.Staging)

	cancel()
	err = <-done
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, context.Canceled)

	assert.NoDirExists(t, staging)
	assert.NoDirExists(t, filepath.Join(env.base, "models", "org-model"))

	held2, err := env.mgr.Lock().TryAcquire(context.Background(), Holder{Operation: "test"})
	require.NoError(t, err, "lock must be released after cancellation")
	held2.Release()
}

func TestAcquireCancelledAfterSuccessfulTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := env.mgr.Acquire(ctx,
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(_ context.Context, dir string) error {
			cancel()
			return os.WriteFile(filepath.Join(dir, "a"), []byte("b"), 0644)
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, filepath.Join(env.base, "models", "org-model"))
}

func TestAcquirePanicReleasesEverything(t *testing.T) {
	env := newTestEnv(t)
	models := filepath.Join(env.base, "models")

	require.Panics(t, func() {
		_, _ = env.mgr.Acquire(context.Background(),
			PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
			func(context.Context, string) error { panic("tool crashed") })
	})

	assert.Empty(t, stagingEntries(t, models))
	_, held, err := env.mgr.Lock().Holder()
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquireRejectsEmptyTransfer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(context.Context, string) error { return nil })

	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Contains(t, err.Error(), "no files")
	assert.Empty(t, stagingEntries(t, filepath.Join(env.base, "models")))
}

func TestAcquireRejectsEscapingSymlink(t *testing.T) {
	env := newTestEnv(t)
	outside := t.TempDir()

	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(ctx context.Context, dir string) error {
			if err := writeFiles(map[string]string{"config.json": "{}"})(ctx, dir); err != nil {
				return err
			}
			return os.Symlink(outside, filepath.Join(dir, "weights"))
		})

	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Contains(t, err.Error(), "outside")
	assert.NoDirExists(t, filepath.Join(env.base, "models", "org-model"))
}

func TestAcquireAllowsInternalSymlink(t *testing.T) {
	env := newTestEnv(t)

	final, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		func(ctx context.Context, dir string) error {
			if err := writeFiles(map[string]string{"blobs/abc": "w"})(ctx, dir); err != nil {
				return err
			}
			return os.Symlink("blobs/abc", filepath.Join(dir, "model.bin"))
		})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(final, "model.bin"))
}

func TestRunExclusive(t *testing.T) {
	env := newTestEnv(t)
	var root string

	err := env.mgr.RunExclusive(context.Background(),
		PlacementRequest{Provider: "ollama", ModelID: "llama3:8b", EstimatedSizeBytes: 1},
		func(ctx context.Context, dir string) error {
			root = dir
			_, held, err := env.mgr.Lock().Holder()
			require.NoError(t, err)
			assert.True(t, held)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.base, "ollama"), root)
	assert.DirExists(t, root)

	cause := errors.New("pull failed")
	err = env.mgr.RunExclusive(context.Background(),
		PlacementRequest{Provider: "ollama", ModelID: "llama3:8b"},
		func(context.Context, string) error { return cause })
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, cause)

	env.insp.avail = 1
	err = env.mgr.RunExclusive(context.Background(),
		PlacementRequest{Provider: "ollama", ModelID: "llama3:8b", EstimatedSizeBytes: 10},
		func(context.Context, string) error { t.Fatal("must not run"); return nil })
	require.ErrorIs(t, err, ErrInsufficientSpace)
}

func TestMetricsTextfile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Acquire(context.Background(),
		PlacementRequest{Provider: "huggingface", ModelID: "org/model"},
		writeFiles(map[string]string{"a": "b"}))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(env.metrics.Gatherer(), "nvme_models_storage_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	path := filepath.Join(t.TempDir(), "textfile", "nvme_models.prom")
	require.NoError(t, env.metrics.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nvme_models_storage_operations_total{operation="acquire",result="success"} 1`)
	assert.Contains(t, string(data), "nvme_models_storage_free_bytes")

	var nilMetrics *Metrics
	assert.NoError(t, nilMetrics.WriteTextfile(path))
}
