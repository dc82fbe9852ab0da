// Command mmapctl captures, plays and monitors ALSA hw devices through the direct mmap ring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type app struct {
	opts   Options
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "mmapctl",
		Short:         "Direct mmap access to ALSA PCM devices",
		Long:          `mmapctl opens hw:C,D devices, maps their ring buffer and moves audio without read/write syscalls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadConfig(&a.opts, cmd); err != nil {
				return err
			}

			logger, err := newLogger(os.Stderr, a.opts.LogLevel, a.opts.LogFormat)
			if err != nil {
				return err
			}
			a.logger = logger.With("component", cmd.Name())

			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.Config, "config", "", "TOML config file")
	f.IntVar(&a.opts.Card, "card", 0, "Sound card number")
	f.IntVar(&a.opts.Device, "device", 0, "PCM device number")
	f.IntVar(&a.opts.Rate, "rate", 0, "Sample rate in Hz (0 = 48000 for capture, the file's rate for play)")
	f.IntVar(&a.opts.Channels, "channels", 0, "Channels per frame (0 = 2 for capture, the file's channels for play)")
	f.StringVar(&a.opts.Format, "format", "", "Sample format (s16, s24, s32, float, float64 or an ALSA name like S16_LE)")
	f.IntVar(&a.opts.PeriodSize, "period-size", 1024, "Period size in frames")
	f.IntVar(&a.opts.PeriodCount, "period-count", 4, "Number of periods")
	f.BoolVar(&a.opts.Monotonic, "monotonic", false, "Use monotonic timestamps")
	f.StringVar(&a.opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&a.opts.LogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newInfoCmd(a),
		newCaptureCmd(a),
		newPlayCmd(a),
		newMonitorCmd(a),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
