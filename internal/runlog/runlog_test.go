package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteCreatesFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	r := &RunLog{Path: filepath.Join(dir, "nested", "run.log")}

	n, err := r.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(filepath.Join(dir, "nested", "run.log"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}

func TestWriteRotatesPastMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")
	r := &RunLog{Path: path, MaxSizeBytes: 10}

	_, err := r.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = r.Write([]byte("more"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	active, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "more", string(active))
}

func TestCleanupOldBackupsRespectsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")
	r := &RunLog{Path: path, MaxSizeBytes: 1, MaxBackups: 2}

	for i := 0; i < 5; i++ {
		_, err := r.Write([]byte(strings.Repeat("x", 2)))
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())

	// Rotation's cleanup runs in a goroutine; give it a moment to settle
	// by re-running the glob until it stabilizes or a bound is hit.
	var matches []string
	for i := 0; i < 100; i++ {
		matches, _ = filepath.Glob(path + ".*")
		if len(matches) <= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.LessOrEqual(t, len(matches), 2)
}
