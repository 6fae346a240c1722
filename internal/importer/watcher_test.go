package importer

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherTriggersOnRecordChange(t *testing.T) {
	dir := t.TempDir()

	var triggers atomic.Int32
	w := NewWatcher(dir, func(string) { triggers.Add(1) }, nil)
	w.debounce = 50 * time.Millisecond

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "spells.json"), []byte(`[]`), 0o600))

	require.Eventually(t, func() bool {
		return triggers.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()

	var triggers atomic.Int32
	w := NewWatcher(dir, func(string) { triggers.Add(1) }, nil)
	w.debounce = 100 * time.Millisecond

	require.NoError(t, w.Start())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "manifest.yaml")
		require.NoError(t, os.WriteFile(name, []byte("name: test"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return triggers.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The burst must have collapsed into far fewer triggers than writes.
	time.Sleep(200 * time.Millisecond)
	require.LessOrEqual(t, triggers.Load(), int32(2))
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()

	var triggers atomic.Int32
	w := NewWatcher(dir, func(string) { triggers.Add(1) }, nil)
	w.debounce = 50 * time.Millisecond

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, triggers.Load())
}
