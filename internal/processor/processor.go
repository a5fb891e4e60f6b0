// Package processor defines the consumer contract that sits downstream of
// every board's channel buffers, and the two built-in implementations:
// DiskDump (flat per-channel text files) and ExternalAnalysis (a
// rendezvous bridge to an out-of-process analysis runtime).
package processor

import (
	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/ring"
)

// Channel pairs one enabled channel's static layout info with the ring
// holding its decoded samples, addressed by absolute shot counter rather
// than ring-relative position (see ring.Buffer.AtCounter).
type Channel struct {
	Info channel.Info
	Ring *ring.Buffer[uint32]
}

// Processor is the scheduler-facing contract every pipeline consumer
// implements. Init is called once, with every enabled channel across
// every board, before the acquisition loop starts. Run is called
// repeatedly by the scheduler with a half-open range [from, to) that is
// guaranteed to be available in every channel's ring; it must process
// what it needs from that range and return the counter below which
// nothing is needed anymore, so the scheduler can reclaim ring space.
// Finish is called once, by DAQ.Stop, after the pipeline goroutines have
// exited, whether the streams ended on their own or a stop was requested.
type Processor interface {
	Init(channels []Channel) error
	Run(from, to uint64) (uint64, error)
	Finish() error
}

// Null is a Processor that needs nothing and reclaims everything
// immediately; it is useful as a scheduler participant when a run has no
// other consumer (e.g. in tests, or a pure network-capture configuration).
type Null struct{}

// Init implements Processor.
func (Null) Init([]Channel) error { return nil }

// Run implements Processor: always caught up, so the scheduler is free to
// reclaim the whole range.
func (Null) Run(from, to uint64) (uint64, error) { return to, nil }

// Finish implements Processor.
func (Null) Finish() error { return nil }
