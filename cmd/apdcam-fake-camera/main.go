// Command apdcam-fake-camera replays a synthetic APDCAM-10G UDP shot
// stream, for exercising apdcam-daq without real hardware. It can be told
// to drop every Nth packet to simulate packet loss and exercise the gap
// repair logic in internal/ingest.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/config"
	"github.com/apdcam10g/daqcore/internal/ingest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverIP    = flag.String("i", "127.0.0.1", "IP address of the server receiving the stream")
		basePort    = flag.Int("port", 10000, "UDP port of board 0; board i sends to basePort+i")
		shots       = flag.Int("n", 100, "number of shots to send")
		octet       = flag.Int("octet", 256, "ADC payload size per packet, in units of 8 bytes")
		mtu         = flag.Int("mtu", 9000, "network MTU")
		resolution  = flag.Int("resolution", 14, "ADC resolution in bits, identical for every board")
		channelMask = flag.String("channels", "0-10", "comma-separated list of enabled channel numbers or ranges, per board")
		boards      = flag.Int("boards", 1, "number of ADC boards to simulate")
		dropEvery   = flag.Int("drop-packets", 0, "drop every Nth packet to simulate loss; 0 disables")
		interShot   = flag.Duration("rate", 0, "delay between shots; 0 sends as fast as possible")
	)
	flag.Parse()

	mask, err := parseChannelMask(*channelMask)
	if err != nil {
		return err
	}
	masks := make([][]bool, *boards)
	resolutions := make([]int, *boards)
	for i := range masks {
		masks[i] = mask
		resolutions[i] = *resolution
	}

	cfg := config.Config{MTU: *mtu, Octet: *octet, ChannelMasks: masks, ResolutionBits: resolutions}
	layouts, err := channel.ComputeLayout(masks, resolutions)
	if err != nil {
		return err
	}

	conns := make([]*net.UDPConn, *boards)
	for i := range conns {
		addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", *serverIP, *basePort+i))
		if err != nil {
			return err
		}
		conn, err := net.DialUDP("udp4", nil, addr)
		if err != nil {
			return fmt.Errorf("dialing board %d at %s: %w", i, addr, err)
		}
		defer conn.Close()
		conns[i] = conn
	}

	for boardNum, conn := range conns {
		if err := sendBoardStream(conn, layouts[boardNum], cfg, *shots, *dropEvery, *interShot); err != nil {
			return fmt.Errorf("board %d: %w", boardNum, err)
		}
	}
	return nil
}

// sendBoardStream encodes shots into one continuous byte stream and slices
// it into fixed-size UDP packets of cfg.MaxUDPPacketSize bytes each (the
// last packet may be shorter, at the end of the run), exactly like the
// real hardware: a shot's bytes are not kept whole inside a packet, so a
// channel value can straddle the boundary between two packets whenever
// layout.BytesPerShot does not evenly divide the packet payload size.
// Packets are sent with a monotonically increasing packet counter,
// optionally skipping every dropEvery-th one to simulate loss.
func sendBoardStream(conn *net.UDPConn, layout channel.Board, cfg config.Config, shots, dropEvery int, interShot time.Duration) error {
	headerSize := ingest.V1Header{}.HeaderSize()
	maxPayload := cfg.MaxUDPPacketSize() - headerSize
	if maxPayload < layout.BytesPerShot {
		return fmt.Errorf("MaxUDPPacketSize %d too small to hold one shot of %d bytes", cfg.MaxUDPPacketSize(), layout.BytesPerShot)
	}

	stream := make([]byte, shots*layout.BytesPerShot)
	for s := 0; s < shots; s++ {
		shotBytes := stream[s*layout.BytesPerShot:]
		for _, ci := range layout.Channels {
			ci.Encode(shotBytes, syntheticValue(ci, s))
		}
	}

	var counter uint64
	for pos := 0; pos < len(stream); pos += maxPayload {
		end := pos + maxPayload
		if end > len(stream) {
			end = len(stream)
		}
		chunk := stream[pos:end]

		pkt := make([]byte, headerSize+len(chunk))
		ingest.V1Header{}.SetPacketCounter(pkt, counter)
		copy(pkt[headerSize:], chunk)

		if dropEvery == 0 || (counter+1)%uint64(dropEvery) != 0 {
			if _, err := conn.Write(pkt); err != nil {
				return err
			}
		}
		counter++

		if interShot > 0 {
			shotsInChunk := len(chunk) / layout.BytesPerShot
			if shotsInChunk < 1 {
				shotsInChunk = 1
			}
			time.Sleep(interShot * time.Duration(shotsInChunk))
		}
	}
	return nil
}

// syntheticValue produces a deterministic, channel-distinguishable
// waveform: a sawtooth over the channel's resolution, offset by the
// channel's absolute number so channels are distinguishable on disk.
func syntheticValue(ci channel.Info, shot int) uint32 {
	period := uint32(1) << uint(ci.NBits)
	return (uint32(shot) + uint32(ci.AbsoluteChannelNumber)) % period
}

func parseChannelMask(spec string) ([]bool, error) {
	mask := make([]bool, channel.ChannelsPerBoard)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseRange(part)
		if err != nil {
			return nil, err
		}
		for c := lo; c <= hi; c++ {
			if c < 0 || c >= channel.ChannelsPerBoard {
				return nil, fmt.Errorf("channel %d out of range [0,%d)", c, channel.ChannelsPerBoard)
			}
			mask[c] = true
		}
	}
	return mask, nil
}

func parseRange(part string) (lo, hi int, err error) {
	if i := strings.IndexByte(part, '-'); i >= 0 {
		lo, err = strconv.Atoi(part[:i])
		if err != nil {
			return 0, 0, fmt.Errorf("bad channel range %q: %w", part, err)
		}
		hi, err = strconv.Atoi(part[i+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("bad channel range %q: %w", part, err)
		}
		return lo, hi, nil
	}
	v, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, fmt.Errorf("bad channel %q: %w", part, err)
	}
	return v, v, nil
}
