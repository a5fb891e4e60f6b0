package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apdcam10g/daqcore/internal/daqerr"
	"github.com/apdcam10g/daqcore/internal/fsutil"
)

// DiskDump writes every enabled channel's decoded samples to its own flat
// text file, one value per line, in absolute shot order. Pausing inserts
// a blank line into every file at the moment of pausing and a
// "# resume: <shot>" comment at the moment of resuming, so the files
// remain readable as plain sample lists with human-visible gaps.
type DiskDump struct {
	// OutputDir is the directory files are created in. Defaults to "."
	OutputDir string
	// FilenamePattern must contain exactly one '%', replaced with the
	// channel's absolute channel number. Defaults to "channel_data_%.dat".
	FilenamePattern string
	// RetryCount/RetryDelay bound how hard Init retries a failed file
	// open before giving up.
	RetryCount int
	RetryDelay time.Duration

	channels      []Channel
	files         []*os.File
	nextData      uint64
	pause         atomic.Bool
	previousPause bool
	sampling      atomic.Uint32
}

// SetSampling sets the modulo used to thin out written shots: a sampling
// of s keeps only shots where shot%s == 0. s == 0 is treated as 1 (write
// every shot). Safe to call concurrently with Run.
func (d *DiskDump) SetSampling(s uint32) {
	if s == 0 {
		s = 1
	}
	d.sampling.Store(s)
}

// Pause suspends writing; Run will still advance but skip every shot
// until Resume is called, marking the transition in every channel's file.
func (d *DiskDump) Pause() { d.pause.Store(true) }

// Resume undoes Pause.
func (d *DiskDump) Resume() { d.pause.Store(false) }

// Init implements Processor: it (re)creates one output file per channel,
// named by substituting the channel's absolute channel number into
// FilenamePattern.
func (d *DiskDump) Init(channels []Channel) error {
	d.closeFiles()

	pattern := d.FilenamePattern
	if pattern == "" {
		pattern = "channel_data_%.dat"
	}
	p := strings.IndexByte(pattern, '%')
	if p < 0 {
		return daqerr.New(daqerr.CategoryConfiguration, "disk dump filename pattern must contain '%'")
	}
	dir := d.OutputDir
	if dir == "" {
		dir = "."
	}

	d.sampling.Store(1)
	d.pause.Store(false)
	d.previousPause = false
	d.channels = channels
	d.files = make([]*os.File, len(channels))

	for i, c := range channels {
		name := pattern[:p] + strconv.Itoa(c.Info.AbsoluteChannelNumber) + pattern[p+1:]
		path := filepath.Join(dir, name)

		var f *os.File
		err := fsutil.RetryFileOperation(func() error {
			var openErr error
			f, openErr = os.Create(path)
			return openErr
		}, d.RetryCount, d.RetryDelay)
		if err != nil {
			d.closeFiles()
			return daqerr.Wrap(daqerr.CategoryResource, err, fmt.Sprintf("opening disk dump file %q", path))
		}
		d.files[i] = f
	}
	d.nextData = 0
	return nil
}

// Run implements Processor: it writes out shots [max(from,nextData), to)
// for every channel, honoring Pause/Resume and the sampling modulo, and
// reports to as the counter below which nothing is needed anymore (this
// processor never looks behind the shot it just wrote).
func (d *DiskDump) Run(from, to uint64) (uint64, error) {
	start := from
	if d.nextData > start {
		start = d.nextData
	}

	for i := start; i < to; i++ {
		paused := d.pause.Load()
		if paused != d.previousPause {
			if paused {
				for _, f := range d.files {
					fmt.Fprintln(f)
				}
			} else {
				for _, f := range d.files {
					fmt.Fprintf(f, "# resume: %d\n", i)
				}
			}
			d.previousPause = paused
		}

		if paused {
			continue
		}

		s := d.sampling.Load()
		if s == 0 {
			s = 1
		}
		if i%uint64(s) != 0 {
			continue
		}

		for ci, c := range d.channels {
			value := c.Ring.AtCounter(i)
			fmt.Fprintln(d.files[ci], *value)
		}
	}

	d.nextData = to
	return to, nil
}

// Finish implements Processor.
func (d *DiskDump) Finish() error {
	d.closeFiles()
	return nil
}

func (d *DiskDump) closeFiles() {
	for _, f := range d.files {
		if f != nil {
			f.Close()
		}
	}
	d.files = nil
}
