package automation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileWatcherReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	fs := NewFileStore(path)
	require.NoError(t, fs.SaveRules([]*Rule{validRule("r1")}))

	store := NewStore(fs, nil)
	require.NoError(t, store.Load())

	reloaded := make(chan struct{}, 1)
	w := NewFileWatcher(path, store, 30*time.Millisecond, nil)
	w.onReload = func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// An external process rewrites the rules file.
	require.NoError(t, fs.SaveRules([]*Rule{validRule("r1"), validRule("r2")}))

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never happened")
	}

	total, _ := store.Count()
	require.Equal(t, 2, total)
}
