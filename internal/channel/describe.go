package channel

import (
	"fmt"
	"strings"
)

// Describe renders a per-bit ownership map of a board's shot bytes: one
// line per byte, one character per bit ('+' or 'x', alternating between
// consecutive enabled channels, or '.' if the bit belongs to no channel),
// followed by the
// board/chip/channel label of the byte's primary owner and, if shot is
// non-nil, the decoded value of that channel. Intended for operator
// debugging of a new channel mask, not for production logging.
func (bd *Board) Describe(shot []byte) string {
	owner := make([]int, bd.BytesPerShot*8)
	for i := range owner {
		owner[i] = -1
	}
	byteOwner := make([]*Info, bd.BytesPerShot)

	for i := range bd.Channels {
		c := &bd.Channels[i]
		// Walk from the value's least significant bit (bit Shift of its
		// last byte) upward, moving to the previous byte after bit 7.
		byteIdx := c.ByteOffset + c.NBytes - 1
		bit := c.Shift
		for b := 0; b < c.NBits; b++ {
			owner[byteIdx*8+bit] = i
			bit++
			if bit == 8 {
				bit = 0
				byteIdx--
			}
		}
		switch c.NBytes {
		case 3:
			byteOwner[c.ByteOffset+1] = c
		case 2:
			n2 := 8 - c.Shift
			n1 := c.NBits - n2
			if n2 > n1 {
				byteOwner[c.ByteOffset+1] = c
			} else {
				byteOwner[c.ByteOffset] = c
			}
		case 1:
			byteOwner[c.ByteOffset] = c
		}
	}

	var sb strings.Builder
	for i := 0; i < bd.BytesPerShot; i++ {
		fmt.Fprintf(&sb, "[%2d]   ", i)
		for bit := 7; bit >= 0; bit-- {
			idx := owner[i*8+bit]
			if idx < 0 {
				sb.WriteByte('.')
				continue
			}
			if idx%2 == 0 {
				sb.WriteByte('+')
			} else {
				sb.WriteByte('x')
			}
		}
		if c := byteOwner[i]; c != nil {
			fmt.Fprintf(&sb, "    %d/%d/%d", c.BoardNumber, c.ChipNumber, c.ChannelNumber)
			if shot != nil {
				fmt.Fprintf(&sb, "  --> %d", c.Decode(shot))
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
