package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatch(t *testing.T, e *Engine, path string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Watch(ctx, path) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestWatch_ReloadsReplacedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")

	trainer := newTestEngine(t)
	require.NoError(t, trainer.Train(context.Background(), trainingCorpus()))
	want := trainer.Status().ModelID

	server := newTestEngine(t)
	startWatch(t, server, path)

	// The watcher may not be registered yet when the first save lands, so
	// keep saving until the reload is observed.
	require.Eventually(t, func() bool {
		if err := trainer.Save(path); err != nil {
			return false
		}
		return server.Status().ModelID == want
	}, 5*time.Second, 250*time.Millisecond)

	p, err := server.Predict(query())
	require.NoError(t, err)
	assert.Equal(t, want, p.ModelID)
}

func TestWatch_IgnoresCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")

	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))
	id := e.Status().ModelID
	startWatch(t, e, path)

	for range 5 {
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		time.Sleep(2 * reloadDelay)
	}
	assert.Equal(t, id, e.Status().ModelID)
}

func TestWatch_MissingDirectory(t *testing.T) {
	e := newTestEngine(t)
	err := e.Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "model.bin"))
	assert.Error(t, err)
}

func TestReloadIfChanged_SkipsSameModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))
	require.NoError(t, e.Save(path))

	before := e.Snapshot()
	e.reloadIfChanged(path)
	assert.Same(t, before, e.Snapshot(), "same model id should not be republished")
}
