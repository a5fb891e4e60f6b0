package channel

import "github.com/apdcam10g/daqcore/internal/daqerr"

func errBoardCountMismatch(masks, resolutions int) error {
	return daqerr.Newf(daqerr.CategoryConfiguration,
		"channel masks given for %d boards but resolution_bits given for %d", masks, resolutions)
}

func errChannelCountMismatch(board, got int) error {
	return daqerr.Newf(daqerr.CategoryConfiguration,
		"board %d: channel mask has %d entries, want %d", board, got, ChannelsPerBoard)
}

func errBadResolution(board, nbits int) error {
	return daqerr.Newf(daqerr.CategoryConfiguration,
		"board %d: resolution %d bits is out of range (8..14)", board, nbits)
}
