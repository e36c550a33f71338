package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"mesh-udp-sender/config"
	"mesh-udp-sender/sender"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type runFlags struct {
	configPath string
	dest       string
	port       uint16
	interval   time.Duration
	payload    string
	sim        bool
	logLevel   string
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for the mesh, then send until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", config.DefaultPath, "config file, ignored if missing")
	fl.StringVar(&f.dest, "dest", "", "destination IPv6 address")
	fl.Uint16Var(&f.port, "port", 0, "destination UDP port")
	fl.DurationVar(&f.interval, "interval", 0, "time between sends")
	fl.StringVar(&f.payload, "payload", "", "datagram payload")
	fl.BoolVar(&f.sim, "sim", false, "run on an in-memory mesh with an echoing peer")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	return cmd
}

// load applies flags the user set on top of the config file.
func (f *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	changed := cmd.Flags().Changed
	if changed("dest") {
		cfg.Destination.Address = f.dest
	}
	if changed("port") {
		cfg.Destination.Port = f.port
	}
	if changed("interval") {
		cfg.Interval = f.interval
	}
	if changed("payload") {
		cfg.Payload = f.payload
	}
	if changed("sim") && f.sim {
		cfg.Stack = config.StackSim
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run returns nil when ctx is cancelled; any other stop is an error.
func run(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	dest, err := cfg.Dest()
	if err != nil {
		return err
	}
	opts, err := cfg.SenderOptions()
	if err != nil {
		return err
	}

	clk := clock.New()

	provider, cleanup, err := newStack(cfg, dest, logger, clk)
	if err != nil {
		return err
	}
	defer cleanup()

	s := sender.New(provider, dest, logger, clk, opts)
	err = s.Run(ctx)

	stats := s.Stats()
	logger.Info("sender stopped",
		"cycles", stats.Cycles,
		"sent", stats.Sent,
		"alloc_failed", stats.AllocFailed,
		"append_failed", stats.AppendFailed,
		"send_failed", stats.SendFailed,
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
