// Package extract decodes a board's raw UDP packet stream into per-channel
// sample streams, handling the case where a channel's value straddles the
// boundary between two packets.
package extract

import (
	"context"

	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/daqerr"
	"github.com/apdcam10g/daqcore/internal/ingest"
	"github.com/apdcam10g/daqcore/internal/ring"
)

// Channel pairs one enabled channel's bit layout with the ring its decoded
// samples are pushed into.
type Channel struct {
	Info channel.Info
	Ring *ring.Buffer[uint32]
}

// Run decodes packets from network (a board's ingest ring) into channels,
// in shot order, until the network ring is both empty and terminated or
// ctx is cancelled. headerSize is the number of leading bytes of each
// packet that precede the ADC payload. boardBytesPerShot is the decoded
// byte width of one shot for this board (channel.Board.BytesPerShot).
//
// On return, every channel's ring is marked Terminated, whether Run
// finished cleanly or was interrupted: a failure here must never leave a
// downstream processor spinning forever for data that will never arrive.
func Run(ctx context.Context, network *ring.Buffer[ingest.Slot], channels []Channel, headerSize, boardBytesPerShot int) error {
	defer func() {
		for i := range channels {
			channels[i].Ring.Terminate()
		}
	}()

	for network.Empty() && !network.Terminated() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if network.Empty() {
		return nil
	}

	packet := network.At(0)
	shotOffset := 0

	for {
		for i := range channels {
			c := &channels[i]
			adcSize := packet.Size - headerSize
			first := shotOffset + c.Info.ByteOffset
			last := first + c.Info.NBytes

			switch {
			case last <= adcSize:
				value := c.Info.Decode(packet.Data[headerSize+shotOffset:])
				if !pushBlocking(c.Ring, value, ctx.Done()) {
					return ctx.Err()
				}

			case first < adcSize:
				// Straddles the boundary by at most 2 bytes (guaranteed by
				// NBytes <= 3 and chip/byte alignment): flatten it into the
				// slack space reserved right after this packet's payload.
				spill := last - adcSize
				if spill > 2 {
					return daqerr.Newf(daqerr.CategoryContract, "channel value spills %d bytes across packet boundary, slack only covers 2", spill)
				}
				for network.Size() < 2 && !network.Terminated() {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
				if network.Size() < 2 {
					return nil
				}
				next := network.At(1)
				copy(packet.Data[headerSize+adcSize:headerSize+adcSize+2], next.Data[headerSize:headerSize+2])

				value := c.Info.Decode(packet.Data[headerSize+shotOffset:])
				if !pushBlocking(c.Ring, value, ctx.Done()) {
					return ctx.Err()
				}

				shotOffset -= adcSize
				network.Pop()
				packet = network.At(0)

			default:
				// Entirely in the next packet.
				network.Pop()
				for network.Empty() && !network.Terminated() {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
				if network.Empty() {
					return nil
				}
				packet = network.At(0)
				shotOffset -= adcSize
				if i == 0 {
					shotOffset = 0
				}
				value := c.Info.Decode(packet.Data[headerSize+shotOffset:])
				if !pushBlocking(c.Ring, value, ctx.Done()) {
					return ctx.Err()
				}
			}
		}
		shotOffset += boardBytesPerShot
	}
}

// pushBlocking spin-waits until r has room for value, then pushes it.
// Returns false if done closes first. The channel ring's own capacity is
// the only back-pressure a slow downstream consumer can apply to the
// extractor.
func pushBlocking(r *ring.Buffer[uint32], value uint32, done <-chan struct{}) bool {
	for r.Push(value) == nil {
		select {
		case <-done:
			return false
		default:
		}
	}
	return true
}
