// Package config defines and validates the settings shared between the
// acquisition core and the fake camera transmitter: the network
// interface, the per-board channel masks and resolutions, and the sizing
// of every ring buffer in the pipeline.
package config

import "github.com/apdcam10g/daqcore/internal/daqerr"

const (
	streamHeaderBytes = 22
	bytesPerOctet     = 8

	// DefaultChannelBufferExtraSize is the number of trailing slots
	// reserved in every channel ring so that a Range read wrapping past
	// the end of the ring can be returned as one contiguous slice.
	DefaultChannelBufferExtraSize = 256
	// DefaultProcessPeriod is the number of new shots that accumulate
	// before the scheduler wakes the processor chain.
	DefaultProcessPeriod = 128
	// DefaultNetworkBufferSize is the ingest ring capacity, in packets.
	DefaultNetworkBufferSize = 512
	// DefaultChannelBufferSize is the per-channel ring capacity, in
	// samples.
	DefaultChannelBufferSize = 1 << 20
)

// Config holds every setting that influences the wire layout and the
// memory footprint of a DAQ run. ChannelMasks[b][c] and ResolutionBits[b]
// must be set consistently before calling Validate: one entry per board,
// ChannelsPerBoard entries per mask.
type Config struct {
	// Interface is the network interface the UDP sockets bind to.
	Interface string
	// MTU bounds the size of a single UDP packet that can be sent
	// without fragmentation.
	MTU int
	// Octet sets the ADC payload size per packet: MaxUDPPacketSize is
	// streamHeaderBytes + 8*Octet.
	Octet int

	ChannelMasks   [][]bool
	ResolutionBits []int

	// ProcessPeriod is the number of new shots that must accumulate
	// before the scheduler runs the processor chain; must be a power of
	// two.
	ProcessPeriod uint64
	// NetworkBufferSize is the ingest ring capacity in packets, per
	// board; must be a power of two.
	NetworkBufferSize int
	// ChannelBufferSize is the per-channel sample ring capacity; must be
	// a power of two.
	ChannelBufferSize int
	// ChannelBufferExtraSize is the trailing capacity reserved in every
	// channel ring for flattening wrapped Range reads.
	ChannelBufferExtraSize int
}

// MaxUDPPacketSize returns the largest ADC-data-carrying UDP payload size
// this configuration produces (stream header plus 8 bytes per octet,
// matching the wire format; it excludes the UDP/IPv4/Ethernet headers,
// which the kernel's socket layer accounts for separately).
func (c *Config) MaxUDPPacketSize() int {
	return streamHeaderBytes + bytesPerOctet*c.Octet
}

// IsPowerOfTwo reports whether p is a power of two. The reference
// implementation computed this as "(p-1) & p != 0", which due to operator
// precedence always evaluates true regardless of p; this is the corrected
// check.
func IsPowerOfTwo(p uint64) bool {
	return p != 0 && p&(p-1) == 0
}

// Validate checks every field for internal consistency, returning the
// first violation found.
func (c *Config) Validate() error {
	if c.MTU <= 0 {
		return daqerr.New(daqerr.CategoryConfiguration, "MTU must be > 0")
	}
	if c.Octet <= 0 {
		return daqerr.New(daqerr.CategoryConfiguration, "octet must be > 0")
	}
	if len(c.ChannelMasks) != len(c.ResolutionBits) {
		return daqerr.Newf(daqerr.CategoryConfiguration,
			"channel masks given for %d boards but resolution_bits given for %d", len(c.ChannelMasks), len(c.ResolutionBits))
	}
	if len(c.ChannelMasks) == 0 {
		return daqerr.New(daqerr.CategoryConfiguration, "at least one board must be configured")
	}
	if !IsPowerOfTwo(c.ProcessPeriod) {
		return daqerr.Newf(daqerr.CategoryConfiguration, "process period %d must be a power of two", c.ProcessPeriod)
	}
	if !IsPowerOfTwo(uint64(c.NetworkBufferSize)) {
		return daqerr.Newf(daqerr.CategoryConfiguration, "network buffer size %d must be a power of two", c.NetworkBufferSize)
	}
	if !IsPowerOfTwo(uint64(c.ChannelBufferSize)) {
		return daqerr.Newf(daqerr.CategoryConfiguration, "channel buffer size %d must be a power of two", c.ChannelBufferSize)
	}
	if c.ChannelBufferExtraSize < 2 {
		return daqerr.New(daqerr.CategoryConfiguration, "channel buffer extra size must be >= 2")
	}
	return nil
}

// WithDefaults returns a copy of c with zero-valued sizing fields filled
// in from the package defaults; it never overrides a field the caller
// already set.
func (c Config) WithDefaults() Config {
	if c.ProcessPeriod == 0 {
		c.ProcessPeriod = DefaultProcessPeriod
	}
	if c.NetworkBufferSize == 0 {
		c.NetworkBufferSize = DefaultNetworkBufferSize
	}
	if c.ChannelBufferSize == 0 {
		c.ChannelBufferSize = DefaultChannelBufferSize
	}
	if c.ChannelBufferExtraSize == 0 {
		c.ChannelBufferExtraSize = DefaultChannelBufferExtraSize
	}
	return c
}
