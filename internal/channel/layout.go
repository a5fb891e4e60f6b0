// Package channel computes and applies the per-channel bit layout that
// packs ADC samples into a board's raw shot bytes.
//
// A board carries a fixed number of chips, each digitizing a fixed number
// of channels at a configurable bit resolution (the same resolution for
// every channel of a given board). Disabled channels contribute nothing to
// the layout: enabling/disabling channels shifts every following channel's
// bit offset within its chip. Bit offsets restart at zero for every chip
// and every chip starts on a fresh byte (a chip's bytes never straddle
// into the next chip's), and every board's total byte count is rounded up
// to a multiple of 4.
package channel

const (
	// ChipsPerBoard is the number of ADC chips per board.
	ChipsPerBoard = 4
	// ChannelsPerChip is the number of channels digitized by one chip.
	ChannelsPerChip = 8
	// ChannelsPerBoard is the number of channels on one board.
	ChannelsPerBoard = ChipsPerBoard * ChannelsPerChip
)

// Info describes where one enabled channel's value lives within a board's
// raw shot bytes, and how to decode/encode it.
type Info struct {
	// BoardNumber is the board this channel belongs to.
	BoardNumber int
	// ChipNumber is the chip (0..ChipsPerBoard-1) within the board.
	ChipNumber int
	// ChannelNumber is the channel index (0..ChannelsPerBoard-1) within
	// the board, counting disabled channels.
	ChannelNumber int
	// AbsoluteChannelNumber counts across all boards.
	AbsoluteChannelNumber int
	// EnabledChannelNumber is an index running 0..N-1 over only the
	// enabled channels, in board/chip/channel order.
	EnabledChannelNumber int

	// ByteOffset is the offset, within the board's shot bytes, of the
	// first byte (possibly partial) holding this channel's value.
	ByteOffset int
	// NBytes is the number of bytes the value spans: 1, 2 or 3.
	NBytes int
	// NBits is the resolution, in bits, of this channel's board.
	NBits int
	// Shift is the right-shift needed to align the value's least
	// significant bit to bit 0 after masking NBits bits out of NBytes
	// bytes read big-endian.
	Shift int
}

// mask returns the low nbits bits set, as a uint32 (enough to hold the
// widest supported resolution after a 24-bit read).
func mask(nbits uint) uint32 {
	return (uint32(1) << nbits) - 1
}

// Decode extracts this channel's raw sample from shot, the board's full
// shot byte slice.
func (c *Info) Decode(shot []byte) uint32 {
	p := shot[c.ByteOffset:]
	var raw uint32
	switch c.NBytes {
	case 1:
		raw = uint32(p[0])
	case 2:
		raw = uint32(p[0])<<8 | uint32(p[1])
	case 3:
		raw = uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	default:
		panic("channel.Info: NBytes must be 1, 2 or 3")
	}
	return (raw >> uint(c.Shift)) & mask(uint(c.NBits))
}

// Encode writes value into this channel's slot within shot, leaving every
// other bit of the spanned bytes untouched. Used by the fake camera
// transmitter to synthesize test shots.
func (c *Info) Encode(shot []byte, value uint32) {
	val := uint64(value) << uint(c.Shift)
	remaining := c.NBits
	shift := c.Shift
	for i := c.NBytes - 1; i >= 0; i-- {
		actualBits := 8 - shift
		if remaining < actualBits {
			actualBits = remaining
		}
		m := byte(mask(uint(actualBits))) << uint(shift)
		idx := c.ByteOffset + i
		shot[idx] = (shot[idx] &^ m) | (byte(val) & m)
		shift = 0
		remaining -= actualBits
		val >>= 8
	}
}

// Board holds the computed layout for one ADC board: the bytes-per-shot
// total (already rounded to a multiple of 4) and the Info for every
// enabled channel, in board/chip/channel order.
type Board struct {
	BytesPerShot int
	Channels     []Info
}

// ComputeLayout derives the per-board, per-channel bit layout from a
// channel enable mask and a resolution, one of each per board. masks[i]
// has ChannelsPerBoard entries for board i; a true entry means the
// channel is digitized and occupies space in the shot. resolutionBits[i]
// is the ADC resolution of board i, identical for every channel of that
// board.
func ComputeLayout(masks [][]bool, resolutionBits []int) ([]Board, error) {
	if len(masks) != len(resolutionBits) {
		return nil, errBoardCountMismatch(len(masks), len(resolutionBits))
	}

	boards := make([]Board, len(masks))
	enabledCount := 0

	for boardNum, boardMask := range masks {
		if len(boardMask) != ChannelsPerBoard {
			return nil, errChannelCountMismatch(boardNum, len(boardMask))
		}
		nbits := resolutionBits[boardNum]
		if nbits < 8 || nbits > 14 {
			return nil, errBadResolution(boardNum, nbits)
		}

		var channels []Info
		chipOffset := 0
		boardBytes := 0

		for chip := 0; chip < ChipsPerBoard; chip++ {
			bitOffset := 0

			for ch := 0; ch < ChannelsPerChip; ch++ {
				boardChannel := chip*ChannelsPerChip + ch
				if !boardMask[boardChannel] {
					continue
				}

				startbit := bitOffset % 8
				byteOffset := chipOffset + bitOffset/8
				spanBits := startbit + nbits
				nbytes := spanBits / 8
				if spanBits%8 != 0 {
					nbytes++
				}
				shift := 8 - spanBits%8
				if shift == 8 {
					shift = 0
				}

				channels = append(channels, Info{
					BoardNumber:           boardNum,
					ChipNumber:            chip,
					ChannelNumber:         boardChannel,
					AbsoluteChannelNumber: boardNum*ChannelsPerBoard + boardChannel,
					EnabledChannelNumber:  enabledCount,
					ByteOffset:            byteOffset,
					NBytes:                nbytes,
					NBits:                 nbits,
					Shift:                 shift,
				})
				enabledCount++
				bitOffset += nbits
			}

			chipBytes := bitOffset / 8
			if bitOffset%8 != 0 {
				chipBytes++
			}
			chipOffset += chipBytes
			boardBytes += chipBytes
		}

		if boardBytes%4 != 0 {
			boardBytes = (boardBytes/4 + 1) * 4
		}

		boards[boardNum] = Board{BytesPerShot: boardBytes, Channels: channels}
	}

	return boards, nil
}
