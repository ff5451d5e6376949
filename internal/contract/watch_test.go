package contract

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

func TestWatchReportsContractChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "social_api_v1.0.0.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openapi: 3.0.3\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes, unrelated atomic.Int32
	err := Watch(ctx, path, func(ev fsnotify.Event) {
		if filepath.Base(ev.Name) == "social_api_v1.0.0.yaml" {
			changes.Add(1)
		} else {
			unrelated.Add(1)
		}
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("openapi: 3.0.3\ninfo: {}\n"), 0o644))

	require.Eventually(t, func() bool { return changes.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, unrelated.Load())
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "gone", "spec.yaml"), func(fsnotify.Event) {})
	require.Error(t, err)
}
