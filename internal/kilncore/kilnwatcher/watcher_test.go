package kilnwatcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLongestCommonPathPrefix(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("/proj/src"), longestCommonPathPrefix([]string{
		"/proj/src/a.ts",
		"/proj/src/components/b.ts",
	}))
	assert.Equal(t, filepath.FromSlash("/proj"), longestCommonPathPrefix([]string{
		"/proj/src/a.ts",
		"/proj/styles/b.css",
	}))
	assert.Equal(t, string(filepath.Separator), longestCommonPathPrefix([]string{"/a/x", "/b/y"}))
}

func TestPathHasPrefix(t *testing.T) {
	assert.True(t, pathHasPrefix("/proj/src/a.ts", "/proj/src"))
	assert.True(t, pathHasPrefix("/proj/src", "/proj/src"))
	assert.False(t, pathHasPrefix("/proj/srcfoo/a.ts", "/proj/src"))
}

func TestWatchIndividuallyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(zap.NewNop(), time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.watchIndividually([]string{dir}))
	require.NoError(t, w.watchIndividually([]string{dir}))
	assert.Len(t, w.watchedAt, 1)
}

func TestUnwatchUntrackedPathIsNoop(t *testing.T) {
	w, err := New(zap.NewNop(), time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.NoError(t, w.Unwatch("/never/watched"))
}

func TestWatchDebouncesIntoOneBatch(t *testing.T) {
	dir := t.TempDir()
	var (
		mu      sync.Mutex
		batches [][]string
		done    = make(chan struct{}, 1)
	)
	w, err := New(zap.NewNop(), 20*time.Millisecond, func(paths []string) {
		mu.Lock()
		batches = append(batches, paths)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch([]string{dir}))

	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("12"), 0o644))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced batch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, batches)
	assert.Contains(t, batches[0], file)
}
