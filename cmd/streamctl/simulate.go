package main

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/joshuapare/cmdring/internal/format"
	"github.com/joshuapare/cmdring/internal/logger"
	"github.com/joshuapare/cmdring/stream/cmdbuf"
	"github.com/joshuapare/cmdring/stream/metrics"
	"github.com/joshuapare/cmdring/stream/sim"
	"github.com/joshuapare/cmdring/stream/transfer"
	"github.com/joshuapare/cmdring/stream/transport"
)

// cmdUpload tells the service to checksum a staged payload.
// Args: shm id, offset, size, crc32.
const cmdUpload = format.FirstUserCommand

var errContextLost = errors.New("context lost")

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Stream a synthetic workload through the command ring",
	Long: `The simulate command stages random-sized payloads in the transfer buffer,
issues one upload command per payload and lets the reference service verify
each payload checksum. Tokens fence the payloads so their space is reused only
after the service has read them.

Example:
  streamctl simulate --commands 10000
  streamctl simulate --mode async --command-delay 50us --wait-timeout 2s
  streamctl simulate --transfer-max 64KiB --payload-max 32KiB --json
  streamctl simulate --metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		rep, err := runSimulation(cfg, reg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOut {
			if err := printJSON(out, rep); err != nil {
				return err
			}
		} else {
			printReport(out, rep)
		}
		if cfg.Metrics {
			return writeMetrics(out, reg)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

// simReport summarizes a finished run.
type simReport struct {
	Mode           string        `json:"mode"`
	Commands       int           `json:"commands"`
	Verified       int64         `json:"verified"`
	Bytes          uint64        `json:"bytes"`
	Tokens         int           `json:"tokens"`
	Flushes        uint32        `json:"flushes"`
	TransferSize   uint32        `json:"transfer_size"`
	TransferMax    uint32        `json:"transfer_max"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	CommandsPerSec float64       `json:"commands_per_sec"`
	BytesPerSec    float64       `json:"bytes_per_sec"`
	Service        sim.Stats     `json:"service"`
}

func parseMode(s string) sim.Mode {
	switch s {
	case "paused":
		return sim.Paused
	case "async":
		return sim.Async
	default:
		return sim.Synchronous
	}
}

// uploadHandler verifies cmdUpload payloads and counts them in verified.
func uploadHandler(verified *atomic.Int64) sim.Handler {
	return func(cmd uint32, args []uint32, region func(id int32) []byte) transport.Error {
		if cmd != cmdUpload || len(args) != 4 {
			return transport.ErrorUnknownCommand
		}
		mem := region(int32(args[0]))
		off, size := uint64(args[1]), uint64(args[2])
		if mem == nil || off+size > uint64(len(mem)) {
			return transport.ErrorOutOfBounds
		}
		if crc32.ChecksumIEEE(mem[off:off+size]) != args[3] {
			return transport.ErrorInvalidArguments
		}
		verified.Add(1)
		return transport.ErrorNone
	}
}

func runSimulation(cfg simConfig, reg prometheus.Registerer) (simReport, error) {
	rep := simReport{Mode: cfg.Mode, Commands: cfg.Commands}
	log := logger.L

	collector, err := metrics.New(reg)
	if err != nil {
		return rep, err
	}

	var verified atomic.Int64
	svc := sim.New(sim.Options{
		Mode:         parseMode(cfg.Mode),
		Handler:      uploadHandler(&verified),
		CommandDelay: cfg.CommandDelay,
		Logger:       log.With("component", "sim"),
	})
	defer svc.Close()

	helper := cmdbuf.NewHelper(svc, cmdbuf.Options{
		Logger:      log.With("component", "cmdbuf"),
		Observer:    collector,
		WaitTimeout: cfg.WaitTimeout,
	})
	if err := helper.Initialize(cfg.RingSize); err != nil {
		return rep, fmt.Errorf("initialize command ring: %w", err)
	}
	defer helper.Close()

	// The limit applies to transfer buffers only; the command ring exists.
	if cfg.CreateLimit > 0 {
		svc.LimitCreateSize(cfg.CreateLimit)
	}

	tb := transfer.New(helper, transfer.Options{
		Logger:   log.With("component", "transfer"),
		Observer: collector,
	})
	// Closing the helper destroys tb as well.
	if err := tb.Initialize(cfg.Transfer); err != nil {
		return rep, fmt.Errorf("initialize transfer buffer: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	span := int64(cfg.PayloadMax-cfg.PayloadMin) + 1

	log.Info("simulation starting",
		"mode", cfg.Mode,
		"commands", cfg.Commands,
		"ring_size", cfg.RingSize,
		"transfer_size", tb.GetSize())

	start := time.Now()
	for i := 0; i < cfg.Commands; i++ {
		size := cfg.PayloadMin + uint32(rng.Int63n(span))
		if err := upload(helper, tb, i, size, &rep); err != nil {
			return rep, fmt.Errorf("command %d: %w", i, err)
		}
		if cfg.TokenEvery > 0 && (i+1)%cfg.TokenEvery == 0 {
			tok := helper.InsertToken()
			rep.Tokens++
			if err := helper.WaitForToken(tok); err != nil {
				return rep, fmt.Errorf("command %d: wait for token %d: %w", i, tok, err)
			}
		}
	}
	if err := helper.Finish(); err != nil {
		return rep, fmt.Errorf("finish: %w", err)
	}
	if helper.IsContextLost() {
		return rep, errContextLost
	}
	rep.Elapsed = time.Since(start)

	rep.Verified = verified.Load()
	rep.Flushes = helper.FlushGeneration()
	rep.TransferSize = tb.GetSize()
	rep.TransferMax = tb.GetMaxAllocation()
	rep.Service = svc.Stats()
	if secs := rep.Elapsed.Seconds(); secs > 0 {
		rep.CommandsPerSec = float64(cfg.Commands) / secs
		rep.BytesPerSec = float64(rep.Bytes) / secs
	}

	log.Info("simulation finished",
		"verified", rep.Verified,
		"bytes", rep.Bytes,
		"elapsed", rep.Elapsed)
	return rep, nil
}

// upload stages one payload and issues the command that reads it.
func upload(helper *cmdbuf.Helper, tb *transfer.TransferBuffer, i int, size uint32, rep *simReport) error {
	p := transfer.NewScopedPtr(helper, tb, size)
	if !p.Valid() {
		return p.Err()
	}
	buf := p.Bytes()
	for j := range buf {
		buf[j] = byte(i + j)
	}
	err := helper.PutCommand(cmdUpload,
		uint32(p.ShmID()), p.Offset(), p.Size(), crc32.ChecksumIEEE(buf))
	if err != nil {
		_ = p.Discard()
		return err
	}
	rep.Bytes += uint64(p.Size())
	return p.Release()
}

func printReport(w io.Writer, rep simReport) {
	printInfo(w, "Simulation (%s mode)\n", rep.Mode)
	printInfo(w, "  commands:       %s (%s verified)\n",
		humanize.Comma(int64(rep.Commands)), humanize.Comma(rep.Verified))
	printInfo(w, "  payload bytes:  %s\n", humanize.IBytes(rep.Bytes))
	printInfo(w, "  tokens waited:  %s\n", humanize.Comma(int64(rep.Tokens)))
	printInfo(w, "  flushes:        %s (%s ordering barriers)\n",
		humanize.Comma(int64(rep.Service.Flushes)), humanize.Comma(int64(rep.Service.OrderingBarriers)))
	printInfo(w, "  service waits:  %s\n", humanize.Comma(int64(rep.Service.Waits)))
	printInfo(w, "  transfer:       %s (max allocation %s, %d created, %d failed)\n",
		humanize.IBytes(uint64(rep.TransferSize)), humanize.IBytes(uint64(rep.TransferMax)),
		rep.Service.BuffersCreated, rep.Service.CreateFailures)
	printInfo(w, "  elapsed:        %s\n", rep.Elapsed.Round(time.Microsecond))
	printInfo(w, "  throughput:     %s cmd/s, %s/s\n",
		humanize.CommafWithDigits(rep.CommandsPerSec, 0), humanize.IBytes(uint64(rep.BytesPerSec)))
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
