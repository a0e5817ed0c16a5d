package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatchDogReportsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan string, 8)
	wd, err := NewWatchDogFactory(zaptest.NewLogger(t)).New(ctx, notify, func(name string) bool {
		return strings.HasPrefix(filepath.Base(name), "asan.")
	})
	require.NoError(t, err)
	require.NoError(t, wd.AddDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "asan.1234"), []byte("ERROR: AddressSanitizer"), 0o644))

	select {
	case name := <-notify:
		assert.Equal(t, "asan.1234", filepath.Base(name))
	case <-time.After(5 * time.Second):
		t.Fatal("no event for created report")
	}

	cancel()
	select {
	case <-wd.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not stop")
	}
	for name := range notify {
		assert.NotEqual(t, "ignored.txt", filepath.Base(name))
	}
}

func TestWatchDogMissingDir(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wd, err := NewWatchDogFactory(zaptest.NewLogger(t)).New(ctx, make(chan string, 1), nil)
	require.NoError(t, err)
	assert.Error(t, wd.AddDir(filepath.Join(t.TempDir(), "missing")))
}
