package daq

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/config"
	"github.com/apdcam10g/daqcore/internal/ingest"
	"github.com/apdcam10g/daqcore/internal/processor"
)

func listenPair(t *testing.T) (server, client *net.UDPConn) {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	server, err = net.ListenUDP("udp", addr)
	require.NoError(t, err)

	client, err = net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return server, client
}

// TestDAQEndToEndIngestExtractAndReclaim sends a handful of single-channel
// shots over a real UDP socket and checks that they flow all the way
// through ingest, extraction and the scheduler down to a processor.
func TestDAQEndToEndIngestExtractAndReclaim(t *testing.T) {
	server, client := listenPair(t)

	masks := make([]bool, channel.ChannelsPerBoard)
	masks[0] = true
	cfg := config.Config{
		Octet:                  1,
		MTU:                    1500,
		ChannelMasks:           [][]bool{masks},
		ResolutionBits:         []int{8},
		ProcessPeriod:          4,
		NetworkBufferSize:      8,
		ChannelBufferSize:      64,
		ChannelBufferExtraSize: 4,
	}

	layouts, err := channel.ComputeLayout(cfg.ChannelMasks, cfg.ResolutionBits)
	require.NoError(t, err)
	info := layouts[0].Channels[0]

	const shots = 8
	headerSize := ingest.V1Header{}.HeaderSize()
	for i := uint64(0); i < shots; i++ {
		pkt := make([]byte, headerSize+layouts[0].BytesPerShot)
		ingest.V1Header{}.SetPacketCounter(pkt, i)
		info.Encode(pkt[headerSize:], uint32(i))
		_, err := client.Write(pkt)
		require.NoError(t, err)
	}

	var null processor.Null
	d, err := New(cfg, []*net.UDPConn{server}, []processor.Processor{null}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for d.boards[0].network.ReceivedPackets() < shots && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, uint64(shots), d.boards[0].network.ReceivedPackets())

	// Closing the socket ends the ingest stream; extraction and the
	// scheduler then drain everything and close Done.
	require.NoError(t, server.Close())
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never finished after the stream ended")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(stopCtx))

	require.Equal(t, uint64(0), d.boards[0].network.LostPackets())
	require.Equal(t, uint64(shots), d.boards[0].lastChannel.PushCounter())
	require.Equal(t, uint64(shots), d.boards[0].lastChannel.PopCounter())
}
