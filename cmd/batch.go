package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mhtml/capture"
	"github.com/dhcgn/mhtml/config"
	"github.com/dhcgn/mhtml/imap"
	"github.com/dhcgn/mhtml/mbox"
	"github.com/dhcgn/mhtml/metrics"
	"github.com/dhcgn/mhtml/mhtml"
	"github.com/dhcgn/mhtml/output"
	"github.com/dhcgn/mhtml/progress"
	"github.com/dhcgn/mhtml/runner"
	"github.com/dhcgn/mhtml/state"
	"github.com/dhcgn/mhtml/stats"
	"github.com/dhcgn/mhtml/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch --urls FILE",
	Short: "Capture a list of URLs into directories, mbox archives, IMAP or Postgres",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()
		slog.SetDefault(logger)
		logger.Info("starting batch capture", "urls", cfg.URLsPath, "stateDir", cfg.StateDir, "dryRun", cfg.DryRun)

		return runBatch(cmd.Context(), cfg, logger)
	},
}

func init() {
	if err := config.RegisterBatchFlags(batchCmd); err != nil {
		panic(fmt.Sprintf("register batch flags: %v", err))
	}
	rootCmd.AddCommand(batchCmd)
}

func runBatch(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	urls, err := capture.ReadURLsFile(cfg.URLsPath)
	if err != nil {
		return err
	}

	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	enc := mhtml.NewEncoder(codec, newFetcher(cfg, rdb, logger), nil, logger)

	tracker, err := newTracker(cfg, rdb, logger)
	if err != nil {
		return err
	}

	r, err := runner.New(ctx, runner.Options{DryRun: cfg.DryRun}, tracker, logger)
	if err != nil {
		_ = tracker.Close()
		return fmt.Errorf("runner.New: %w", err)
	}

	if !cfg.DryRun {
		sinks, err := openSinks(ctx, cfg, logger)
		if err != nil {
			_ = tracker.Close()
			return err
		}
		for _, s := range sinks {
			r.AddSink(s)
		}
	}

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, logger)
		defer stop()
	}

	pending := capture.Pending(ctx, tracker, urls)
	logger.Info("urls loaded", "total", len(urls), "pending", pending)

	bar := progress.New(len(urls), len(urls)-pending, cfg.LogLevel)
	if bar.Enabled() {
		progress.NewReporter(r, bar, logger)
	} else {
		stats.NewReporter(r, logger)
	}

	capture.NewProducer(urls, enc, r, logger)
	return r.Start()
}

func newTracker(cfg config.Config, rdb *redis.Client, logger *slog.Logger) (state.Tracker, error) {
	if rdb != nil {
		return state.NewRedisTracker(rdb, cfg.StateTTL, logger), nil
	}
	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun, cfg.StateTTL)
	if err != nil {
		return nil, fmt.Errorf("state.NewFileTracker: %w", err)
	}
	return tracker, nil
}

// openSinks opens every configured sink. On failure the sinks opened so far
// are closed again.
func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) (sinks []runner.Sink, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, s := range sinks {
			err = errors.Join(err, s.Close())
		}
		sinks = nil
	}()

	if cfg.OutDir != "" {
		dir, err := output.NewDir(cfg.OutDir, logger)
		if err != nil {
			return sinks, fmt.Errorf("output.NewDir: %w", err)
		}
		sinks = append(sinks, dir)
	}

	if cfg.MboxPath != "" {
		w, err := mbox.NewWriter(cfg.MboxPath, logger)
		if err != nil {
			return sinks, fmt.Errorf("mbox.NewWriter: %w", err)
		}
		sinks = append(sinks, w)
	}

	if cfg.IMAPHost != "" {
		u, err := imap.NewUploader(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			TargetFolder:       cfg.TargetFolder,
		}, logger)
		if err != nil {
			return sinks, fmt.Errorf("imap.NewUploader: %w", err)
		}
		sinks = append(sinks, u)
	}

	if cfg.PostgresDSN != "" {
		st, err := store.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return sinks, fmt.Errorf("store.Open: %w", err)
		}
		sinks = append(sinks, st)
	}

	return sinks, nil
}

// serveMetrics exposes /metrics on addr until the returned func is called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
