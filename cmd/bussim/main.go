// Command bussim drives a simulated bus with several devices that mix queued and
// polling transfers, then reports the lock's counters.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-buslock/busmetrics"
	"github.com/ahrav/go-buslock/host"
)

type options struct {
	configPath  string
	devices     int
	iterations  int
	pollEvery   int
	delay       time.Duration
	logLevel    string
	logFormat   string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "bussim",
		Short: "Simulate devices sharing one bus",
		Long: `Runs every configured device on its own goroutine against an in-memory
loopback driver. Each device queues transactions for the background worker and
periodically runs a polling transfer while holding the bus.

Examples:
  bussim --devices 4 --iterations 1000
  bussim --config bus.yaml --metrics-addr :9100`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML bus config; overrides --devices")
	f.IntVarP(&opts.devices, "devices", "d", 3, "number of soft devices when no config is given")
	f.IntVarP(&opts.iterations, "iterations", "n", 200, "transactions queued per device")
	f.IntVar(&opts.pollEvery, "poll-every", 5, "run a polling transfer every N iterations, 0 disables")
	f.DurationVar(&opts.delay, "transfer-delay", 50*time.Microsecond, "simulated time per transfer")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "text", "text or json")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address and keep running")
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func loadConfig(opts *options) (host.Config, error) {
	if opts.configPath != "" {
		return host.LoadConfig(opts.configPath)
	}
	cfg := host.DefaultConfig()
	for i := range opts.devices {
		cfg.Devices = append(cfg.Devices, host.DeviceConfig{Name: fmt.Sprintf("dev%d", i)})
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, stdout, stderr io.Writer, opts *options) error {
	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.iterations < 0 || opts.pollEvery < 0 {
		return errors.New("iterations and poll-every must not be negative")
	}

	drv := host.NewMemDriver(opts.delay)
	h, err := host.New(drv, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			logger.Error("close host", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var srv *http.Server
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(busmetrics.NewCollector(h.Lock(), "sim"))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", opts.metricsAddr)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range h.Devices() {
		g.Go(func() error { return drive(gctx, d, opts.iterations, opts.pollEvery) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	report(stdout, h, drv, elapsed)
	if drv.Overlaps() != 0 {
		return fmt.Errorf("%d overlapping transfers", drv.Overlaps())
	}

	if srv != nil {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
	return nil
}

// drive queues iterations transactions on d and collects each result, with a polling
// transfer every pollEvery iterations.
func drive(ctx context.Context, d *host.Device, iterations, pollEvery int) error {
	for i := range iterations {
		msg := []byte(fmt.Sprintf("%s:%d", d.Name(), i))
		if err := d.Queue(ctx, &host.Transaction{Tx: msg, Rx: make([]byte, len(msg))}); err != nil {
			return err
		}
		if pollEvery > 0 && i%pollEvery == 0 {
			if err := d.Polling(&host.Transaction{Tx: msg, Rx: make([]byte, len(msg))}); err != nil {
				return err
			}
		}
		if _, err := d.Result(ctx); err != nil {
			return fmt.Errorf("%s: %w", d.Name(), err)
		}
	}
	return nil
}

func report(w io.Writer, h *host.Host, drv *host.MemDriver, elapsed time.Duration) {
	s := h.Lock().Stats()
	fmt.Fprintf(w, "elapsed            %s\n", elapsed.Round(time.Microsecond))
	for _, d := range h.Devices() {
		fmt.Fprintf(w, "device %-11s %d transfers\n", d.Name(), drv.Transfers(d.ID()))
	}
	fmt.Fprintf(w, "bus selects        %d\n", drv.Selects())
	fmt.Fprintf(w, "acquires           %d immediate, %d blocked\n", s.AcquiresImmediate, s.AcquiresBlocked)
	fmt.Fprintf(w, "releases           %d\n", s.Releases)
	fmt.Fprintf(w, "handoffs           %d task, %d background\n", s.HandoffsTask, s.HandoffsBackground)
	fmt.Fprintf(w, "background         %d requests, %d passes, %d promotions\n", s.BgRequests, s.BgPasses, s.Promotions)
}
