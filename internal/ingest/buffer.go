// Package ingest receives the camera's UDP packet stream into a ring
// buffer, repairing gaps caused by lost packets so that downstream stages
// always see a contiguous, correctly time-ordered sequence of packets.
package ingest

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/apdcam10g/daqcore/internal/daqerr"
	"github.com/apdcam10g/daqcore/internal/ring"
)

// postFirstPacketTimeout is how long Receive will wait for the next packet
// once the camera has started sending. The camera gives no explicit
// end-of-stream signal; it just stops transmitting, so silence for this
// long is taken as the end of the run.
const postFirstPacketTimeout = 3 * time.Second

// Slot is one ring-buffer element: a window into the shared arena plus the
// number of bytes actually received into it.
type Slot struct {
	Data []byte
	Size int
}

// Buffer is the UDP ingest ring: a fixed pool of packet-sized arena
// windows cycling through a ring.Buffer[Slot], with gap repair applied as
// packets are received.
type Buffer struct {
	ring  *ring.Buffer[Slot]
	arena []byte

	maxPacketSize int
	codec         HeaderCodec

	expectedCounter     uint64
	firstPacketReceived bool

	receivedPackets atomic.Uint64
	lostPackets     atomic.Uint64
}

// New allocates a ring of sizeInPackets slots, each backed by
// maxPacketSize+2 arena bytes (the extra 2 bytes give internal/extract
// somewhere to flatten a channel value that straddles two packets).
// sizeInPackets must be a power of two.
func New(sizeInPackets, maxPacketSize int, codec HeaderCodec) (*Buffer, error) {
	if maxPacketSize <= 0 {
		return nil, daqerr.New(daqerr.CategoryConfiguration, "max UDP packet size must be > 0")
	}
	r, err := ring.New[Slot](sizeInPackets, 0)
	if err != nil {
		return nil, err
	}

	stride := maxPacketSize + 2
	b := &Buffer{
		ring:          r,
		arena:         make([]byte, sizeInPackets*stride),
		maxPacketSize: maxPacketSize,
		codec:         codec,
	}

	for i := 0; i < sizeInPackets; i++ {
		slot := b.ring.FutureElement(uint64(i), nil)
		if slot == nil {
			return nil, daqerr.New(daqerr.CategoryResource, "failed to reserve initial ingest slots")
		}
		slot.Data = b.arena[i*stride : (i+1)*stride]
	}
	return b, nil
}

// Ring exposes the underlying ring buffer for consumers.
func (b *Buffer) Ring() *ring.Buffer[Slot] { return b.ring }

// Lock pins the ingest arena in physical memory so a page fault never
// lands in the middle of a receive under load. Best-effort: callers
// running without CAP_IPC_LOCK should treat a failure as a warning, not a
// fatal condition.
func (b *Buffer) Lock() error {
	if err := unix.Mlock(b.arena); err != nil {
		return daqerr.Wrap(daqerr.CategoryResource, err, "mlock ingest arena")
	}
	return nil
}

// Unlock releases a pin taken by Lock.
func (b *Buffer) Unlock() error {
	if err := unix.Munlock(b.arena); err != nil {
		return daqerr.Wrap(daqerr.CategoryResource, err, "munlock ingest arena")
	}
	return nil
}

// ReceivedPackets returns the total number of packets received so far.
func (b *Buffer) ReceivedPackets() uint64 { return b.receivedPackets.Load() }

// LostPackets returns the total number of packets synthesized to cover
// gaps in the packet counter sequence.
func (b *Buffer) LostPackets() uint64 { return b.lostPackets.Load() }

// Receive reads one packet from conn into the ring, repairing any gap
// detected against the running packet counter before publishing. It
// returns the number of bytes received, or an error if the context was
// cancelled, the read timed out (reported as a plain net.Error, not
// wrapped, so callers can use errors.As(..., *net.OpError) idiomatically),
// or the packet counter went backwards. On any of these, Receive marks the
// ring Terminated so consumers stop waiting for more data.
//
// Receive must be called from a single goroutine, repeatedly, until it
// returns an error.
func (b *Buffer) Receive(ctx context.Context, conn *net.UDPConn) (int, error) {
	record := b.ring.FutureElement(0, ctx.Done())
	if record == nil {
		b.ring.Terminate()
		return 0, ctx.Err()
	}
	if ctx.Err() != nil {
		b.ring.Terminate()
		return 0, ctx.Err()
	}

	n, _, err := conn.ReadFromUDP(record.Data[:b.maxPacketSize])
	if err != nil {
		b.ring.Terminate()
		return 0, err
	}
	record.Size = n
	b.receivedPackets.Add(1)

	// Every received packet pushes the deadline out again, so only a
	// silence of postFirstPacketTimeout ends the stream.
	b.firstPacketReceived = true
	if err := conn.SetReadDeadline(time.Now().Add(postFirstPacketTimeout)); err != nil {
		b.ring.Terminate()
		return 0, daqerr.Wrap(daqerr.CategoryResource, err, "setting post-first-packet read deadline")
	}

	counter := b.codec.PacketCounter(record.Data[:n])
	if counter < b.expectedCounter {
		b.ring.Terminate()
		return 0, daqerr.Newf(daqerr.CategoryProtocol, "packet counter decreased: got %d, expected >= %d", counter, b.expectedCounter)
	}

	if counter == b.expectedCounter {
		b.ring.Publish(1)
		b.expectedCounter = counter + 1
		return n, nil
	}

	lost := counter - b.expectedCounter
	b.lostPackets.Add(lost)

	// Slot i+1 carries counter expectedCounter+i+1, except the last one,
	// which carries expectedCounter: after the swap below it lands in
	// slot 0, ahead of the others.
	var last *Slot
	for i := uint64(0); i < lost; i++ {
		empty := b.ring.FutureElement(i+1, ctx.Done())
		if empty == nil {
			b.ring.Terminate()
			return 0, ctx.Err()
		}
		b.fillEmptyPacket(empty, b.expectedCounter+(i+1)%lost)
		last = empty
	}

	// The received packet physically occupies slot 0, but time-wise it
	// belongs after the synthesized gap-fill packets; swap its record
	// with the last synthesized one so publish order matches time order.
	*record, *last = *last, *record

	b.ring.Publish(lost + 1)
	b.expectedCounter = counter + 1
	return n, nil
}

func (b *Buffer) fillEmptyPacket(slot *Slot, counter uint64) {
	data := slot.Data[:b.maxPacketSize]
	for i := range data {
		data[i] = 0
	}
	slot.Size = b.maxPacketSize
	b.codec.SetPacketCounter(data, counter)
}
