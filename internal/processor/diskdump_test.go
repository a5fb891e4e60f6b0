package processor

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/ring"
)

func newTestChannel(t *testing.T, absolute int, n uint64) Channel {
	t.Helper()
	r, err := ring.New[uint32](128, 0)
	require.NoError(t, err)
	for i := uint64(0); i < n; i++ {
		require.NotNil(t, r.Push(uint32(i)))
	}
	return Channel{Info: channel.Info{AbsoluteChannelNumber: absolute}, Ring: r}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// TestPauseResumeMarksFileTransitions is scenario S5: shots 0..99, paused
// between shots 30..59, expects a blank line at the pause point and a
// "# resume: 60" comment at the resume point.
func TestPauseResumeMarksFileTransitions(t *testing.T) {
	dir := t.TempDir()
	ch := newTestChannel(t, 0, 100)

	d := &DiskDump{OutputDir: dir, FilenamePattern: "channel_%.dat"}
	require.NoError(t, d.Init([]Channel{ch}))

	_, err := d.Run(0, 30)
	require.NoError(t, err)
	d.Pause()
	_, err = d.Run(30, 60)
	require.NoError(t, err)
	d.Resume()
	_, err = d.Run(60, 100)
	require.NoError(t, err)
	require.NoError(t, d.Finish())

	lines := readLines(t, filepath.Join(dir, "channel_0.dat"))
	require.Equal(t, "29", lines[29])
	require.Equal(t, "", lines[30])
	require.Equal(t, "# resume: 60", lines[31])
	require.Equal(t, "60", lines[32])
	require.Equal(t, "99", lines[len(lines)-1])
}

func TestSamplingSkipsShotsNotOnBoundary(t *testing.T) {
	dir := t.TempDir()
	ch := newTestChannel(t, 0, 10)

	d := &DiskDump{OutputDir: dir, FilenamePattern: "channel_%.dat"}
	require.NoError(t, d.Init([]Channel{ch}))
	d.SetSampling(3)

	_, err := d.Run(0, 10)
	require.NoError(t, err)
	require.NoError(t, d.Finish())

	lines := readLines(t, filepath.Join(dir, "channel_0.dat"))
	require.Equal(t, []string{"0", "3", "6", "9"}, lines)
}

func TestRunAdvancesFromMaxOfFromAndNextData(t *testing.T) {
	dir := t.TempDir()
	ch := newTestChannel(t, 7, 20)

	d := &DiskDump{OutputDir: dir, FilenamePattern: "channel_%.dat"}
	require.NoError(t, d.Init([]Channel{ch}))

	next, err := d.Run(0, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(10), next)

	// Calling Run again with an overlapping `from` must not re-write
	// shots already written.
	next, err = d.Run(0, 15)
	require.NoError(t, err)
	require.Equal(t, uint64(15), next)
	require.NoError(t, d.Finish())

	lines := readLines(t, filepath.Join(dir, "channel_7.dat"))
	require.Len(t, lines, 15)
}

func TestInitRejectsPatternWithoutPercent(t *testing.T) {
	d := &DiskDump{OutputDir: t.TempDir(), FilenamePattern: "channel_data.dat"}
	err := d.Init([]Channel{newTestChannel(t, 0, 1)})
	require.Error(t, err)
}
