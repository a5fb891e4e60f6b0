// Command apdcam-daq receives the UDP shot stream from one or more
// APDCAM-10G ADC boards, repairs packet loss, extracts per-channel
// samples and dumps them to disk, one flat text file per channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apdcam10g/daqcore/internal/channel"
	"github.com/apdcam10g/daqcore/internal/config"
	"github.com/apdcam10g/daqcore/internal/daq"
	"github.com/apdcam10g/daqcore/internal/processor"
	"github.com/apdcam10g/daqcore/internal/runlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		iface         = flag.String("i", "lo", "network interface to receive the camera stream on")
		outputDir     = flag.String("d", ".", "output directory for per-channel disk dump files")
		sampleBuffer  = flag.Int("s", config.DefaultChannelBufferSize, "per-channel sample buffer size, must be a power of two")
		networkBuffer = flag.Int("n", config.DefaultNetworkBufferSize, "network ring buffer size in UDP packets, must be a power of two")
		basePort      = flag.Int("port", 10000, "UDP port of board 0; board i listens on basePort+i")
		octet         = flag.Int("octet", 256, "ADC payload size per packet, in units of 8 bytes")
		mtu           = flag.Int("mtu", 9000, "network MTU")
		resolution    = flag.Int("resolution", 14, "ADC resolution in bits, identical for every board")
		channelMask   = flag.String("channels", "0-10", "comma-separated list of enabled channel numbers or ranges (e.g. \"0-10,16,20-23\"), per board")
		boards        = flag.Int("boards", 1, "number of ADC boards")
		pidFile       = flag.String("pidfile", defaultPIDFile(), "path to write this process's PID to")
		runLogPath    = flag.String("runlog", "", "path to the structured run log; empty disables file logging")
	)
	flag.Parse()

	logger, closeLogger, err := buildLogger(*runLogPath)
	if err != nil {
		return err
	}
	defer closeLogger()

	if err := writePIDFile(*pidFile); err != nil {
		logger.Warn("failed to write PID file", zap.String("path", *pidFile), zap.Error(err))
	} else {
		defer os.Remove(*pidFile)
	}

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

	cfg := config.Config{
		Interface:         *iface,
		MTU:               *mtu,
		Octet:             *octet,
		ChannelMasks:      masks,
		ResolutionBits:    resolutions,
		NetworkBufferSize: *networkBuffer,
		ChannelBufferSize: *sampleBuffer,
	}.WithDefaults()

	conns, err := openBoardSockets(*iface, *basePort, *boards)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	dump := &processor.DiskDump{OutputDir: *outputDir, FilenamePattern: "channel_%.dat"}

	d, err := daq.New(cfg, conns, []processor.Processor{dump}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("acquisition started", zap.String("interface", *iface), zap.Int("boards", *boards))

	select {
	case <-ctx.Done():
		logger.Info("stop requested, flushing outputs")
	case <-d.Done():
		logger.Info("acquisition finished, flushing outputs")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
	}

	fmt.Println(d.Report())
	return nil
}

func buildLogger(path string) (*zap.Logger, func(), error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), zap.InfoLevel)
	core := consoleCore
	var rl *runlog.RunLog

	if path != "" {
		rl = &runlog.RunLog{Path: path, MaxSizeBytes: 50 * 1024 * 1024, MaxBackups: 5, Compress: true}
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), rl, zap.InfoLevel)
		core = zapcore.NewTee(consoleCore, fileCore)
	}

	logger := zap.New(core)
	cleanup := func() {
		_ = logger.Sync()
		if rl != nil {
			_ = rl.Close()
		}
	}
	return logger, cleanup, nil
}

func defaultPIDFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".apdcam10g/pid"
	}
	return filepath.Join(home, ".apdcam10g", "pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// openBoardSockets binds one UDP socket per board on iface, at
// consecutive ports starting at basePort.
func openBoardSockets(iface string, basePort, boards int) ([]*net.UDPConn, error) {
	ip, err := interfaceIPv4(iface)
	if err != nil {
		return nil, err
	}

	conns := make([]*net.UDPConn, 0, boards)
	for i := 0; i < boards; i++ {
		addr := &net.UDPAddr{IP: ip, Port: basePort + i}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, fmt.Errorf("listening for board %d on %s:%d: %w", i, ip, addr.Port, err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func interfaceIPv4(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("resolving interface %q: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("listing addresses on interface %q: %w", name, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("interface %q has no IPv4 address", name)
}

// parseChannelMask turns a spec like "0-10,16,20-23" into a
// channel.ChannelsPerBoard-length enable mask.
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
