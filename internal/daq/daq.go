// Package daq wires together ingest, extract and processor into one
// running acquisition: one ingest ring and one extractor goroutine per
// board, a flattened set of per-channel rings shared by every registered
// processor, and a scheduler goroutine that drives the processor chain as
// data arrives.
package daq

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/config"
	"github.com/apdcam10g/daqcore/internal/daqerr"
	"github.com/apdcam10g/daqcore/internal/extract"
	"github.com/apdcam10g/daqcore/internal/ingest"
	"github.com/apdcam10g/daqcore/internal/processor"
	"github.com/apdcam10g/daqcore/internal/ring"
	"github.com/apdcam10g/daqcore/internal/stats"
)

// board bundles one ADC board's ingest ring, its decoded channel layout
// and the channel rings its extractor goroutine feeds.
type board struct {
	number      int
	conn        *net.UDPConn
	network     *ingest.Buffer
	layout      channel.Board
	channels    []extract.Channel
	lastChannel *ring.Buffer[uint32] // watermark: last enabled channel of this board
}

// DAQ orchestrates UDP ingest, channel extraction and the processor
// scheduler for every configured board.
type DAQ struct {
	cfg        config.Config
	logger     *zap.Logger
	boards     []*board
	processors []processor.Processor
	allChans   []processor.Channel

	wg     sync.WaitGroup
	cancel context.CancelFunc

	// done is closed by runScheduler when every board's stream has
	// terminated on its own, or when a processor breaks the Run contract
	// and the scheduler stops, so a caller blocked waiting for an external
	// stop signal (e.g. SIGINT) also learns the run ended naturally and
	// can still call Stop to join goroutines and run Finish on every
	// processor.
	done chan struct{}
}

// New validates cfg, computes every board's channel layout, and allocates
// every ring buffer the run will use. conns supplies one already-bound
// *net.UDPConn per board, in board order. It does not start any
// goroutine; call Start for that.
func New(cfg config.Config, conns []*net.UDPConn, procs []processor.Processor, logger *zap.Logger) (*DAQ, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(conns) != len(cfg.ChannelMasks) {
		return nil, daqerr.Newf(daqerr.CategoryConfiguration,
			"got %d UDP connections but %d boards configured", len(conns), len(cfg.ChannelMasks))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	layouts, err := channel.ComputeLayout(cfg.ChannelMasks, cfg.ResolutionBits)
	if err != nil {
		return nil, err
	}

	d := &DAQ{
		cfg:        cfg,
		logger:     logger,
		processors: procs,
		done:       make(chan struct{}),
	}

	for i, layout := range layouts {
		ingestBuf, err := ingest.New(cfg.NetworkBufferSize, cfg.MaxUDPPacketSize(), ingest.V1Header{})
		if err != nil {
			return nil, daqerr.Wrap(daqerr.CategoryResource, err, fmt.Sprintf("allocating ingest ring for board %d", i))
		}

		b := &board{number: i, conn: conns[i], network: ingestBuf, layout: layout}
		for _, ci := range layout.Channels {
			r, err := ring.New[uint32](cfg.ChannelBufferSize, cfg.ChannelBufferExtraSize)
			if err != nil {
				return nil, daqerr.Wrap(daqerr.CategoryResource, err, fmt.Sprintf("allocating channel ring for board %d channel %d", i, ci.ChannelNumber))
			}
			ec := extract.Channel{Info: ci, Ring: r}
			b.channels = append(b.channels, ec)
			d.allChans = append(d.allChans, processor.Channel{Info: ci, Ring: r})
		}
		if len(b.channels) > 0 {
			b.lastChannel = b.channels[len(b.channels)-1].Ring
		}
		d.boards = append(d.boards, b)
	}

	return d, nil
}

// Start pins every ingest arena in memory, initializes every processor
// with the full channel set, and launches one ingest goroutine, one
// extractor goroutine per board, and the scheduler goroutine.
func (d *DAQ) Start(ctx context.Context) error {
	for _, p := range d.processors {
		if err := p.Init(d.allChans); err != nil {
			return daqerr.Wrap(daqerr.CategoryContract, err, "initializing processor")
		}
	}
	for _, b := range d.boards {
		if err := b.network.Lock(); err != nil {
			d.logger.Warn("failed to mlock ingest arena, continuing without it", zap.Int("board", b.number), zap.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, b := range d.boards {
		b := b
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runIngest(runCtx, b)
		}()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			headerSize := ingest.V1Header{}.HeaderSize()
			if err := extract.Run(runCtx, b.network.Ring(), b.channels, headerSize, b.layout.BytesPerShot); err != nil {
				d.logger.Error("channel extractor stopped with error", zap.Int("board", b.number), zap.Error(err))
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runScheduler(runCtx)
	}()

	return nil
}

func (d *DAQ) runIngest(ctx context.Context, b *board) {
	for {
		if _, err := b.network.Receive(ctx, b.conn); err != nil {
			if ctx.Err() == nil {
				d.logger.Info("ingest stream ended", zap.Int("board", b.number), zap.Error(err))
			}
			return
		}
	}
}

// runScheduler is the processor scheduling loop: it tracks, per board, the
// push/pop counters of that board's last enabled channel as a watermark
// for data availability across the whole board, reduces those watermarks
// across boards, runs every processor over the resulting common range,
// and reclaims ring space up to the smallest counter any processor still
// needs.
func (d *DAQ) runScheduler(ctx context.Context) {
	toCounter := d.cfg.ProcessPeriod

	for {
		if ctx.Err() != nil {
			return
		}

		var commonPush, commonPop uint64
		nonTerminatedExists := false

		for i, b := range d.boards {
			if b.lastChannel == nil {
				continue
			}
			push, terminated := waitForWatermark(ctx, b.lastChannel, toCounter)
			if !terminated {
				nonTerminatedExists = true
			}
			if i == 0 || push < commonPush {
				commonPush = push
			}
			if pop := b.lastChannel.PopCounter(); pop > commonPop {
				commonPop = pop
			}
		}

		if ctx.Err() != nil {
			return
		}

		if commonPush > commonPop {
			needed := commonPush
			for _, p := range d.processors {
				got, err := p.Run(commonPop, commonPush)
				if err != nil {
					d.logger.Error("processor run failed", zap.Error(err))
					continue
				}
				if got > commonPush {
					d.logger.Error("processor reported a needed counter past what was made available, stopping the scheduler",
						zap.Uint64("needed", got), zap.Uint64("available", commonPush))
					close(d.done)
					return
				}
				if got < needed {
					needed = got
				}
			}
			for _, c := range d.allChans {
				c.Ring.PopTo(needed)
			}
		}

		if !nonTerminatedExists {
			close(d.done)
			return
		}
		toCounter = commonPush + d.cfg.ProcessPeriod
	}
}

// waitForWatermark blocks until b's push counter reaches at least target
// or b is terminated, returning the push counter observed at that point
// and whether termination, rather than reaching target, is what stopped
// the wait.
func waitForWatermark(ctx context.Context, b *ring.Buffer[uint32], target uint64) (push uint64, terminated bool) {
	for {
		if ctx.Err() != nil {
			return b.PushCounter(), b.Terminated()
		}
		push = b.PushCounter()
		if push >= target {
			return push, false
		}
		if b.Terminated() {
			return b.PushCounter(), true
		}
	}
}

// Stop cancels every running goroutine and waits until ctx is done for
// them to exit, then calls Finish on every processor. It returns a timeout
// error if the goroutines did not exit in time; Go has no mechanism to
// forcibly kill a goroutine, so a caller that needs a hard deadline must
// treat that error as a signal to exit the process instead.
func (d *DAQ) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return daqerr.New(daqerr.CategoryResource, "daq goroutines did not exit before the stop deadline")
	}

	for _, b := range d.boards {
		_ = b.network.Unlock()
	}

	var firstErr error
	for _, p := range d.processors {
		if err := p.Finish(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Done returns a channel that is closed once every board's stream has
// terminated on its own, or the scheduler has stopped because a processor
// returned a needed counter past the range it was given, without Stop
// having been called. A caller
// waiting on an external stop signal should also select on this channel
// and call Stop when it fires, so that Finish still runs on every
// processor (including waking any blocked ExternalAnalysis) even when
// the run ends before the operator asks for it to stop.
func (d *DAQ) Done() <-chan struct{} {
	return d.done
}

// Report returns a human-readable fill-statistics summary for every
// ingest and channel ring in the run, flagging any that averaged more
// than half full.
func (d *DAQ) Report() string {
	out := ""
	for _, b := range d.boards {
		out += stats.Report(fmt.Sprintf("board %d ingest", b.number), b.network.Ring()).String() + "\n"
		for _, c := range b.channels {
			name := fmt.Sprintf("board %d channel %d", b.number, c.Info.ChannelNumber)
			out += stats.Report(name, c.Ring).String() + "\n"
		}
	}
	return out
}
