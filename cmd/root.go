package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mhtml/config"
	"github.com/dhcgn/mhtml/fetch"
	"github.com/dhcgn/mhtml/mhtml"
)

var rootCmd = &cobra.Command{
	Use:   "mhtml [flags] <url> [dst]",
	Short: "Save web pages as MHTML archives and extract their parts",
	Long: `mhtml fetches a page with its images, stylesheets and scripts and writes
a single MHTML file to dst, or to stdout when dst is omitted.

With -p the first argument is an MHTML file whose parts are written to the
directory given as second argument.`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceErrors: true,
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

		parse, err := cmd.Flags().GetBool("parse")
		if err != nil {
			return err
		}
		if parse {
			return runParse(cmd.Context(), cfg, logger, args[0], argOr(args, 1, "."))
		}
		return runGet(cmd.Context(), cfg, logger, args[0], argOr(args, 1, ""))
	},
}

func init() {
	config.RegisterGlobalFlags(rootCmd)
	config.RegisterPartFlags(rootCmd)
	rootCmd.Flags().BoolP("parse", "p", false, "Decode the MHTML file <url> into the directory [dst]")
}

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func argOr(args []string, i int, def string) string {
	if len(args) > i {
		return args[i]
	}
	return def
}

func runGet(ctx context.Context, cfg config.Config, logger *slog.Logger, pageURL, dst string) error {
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

	logger.Info("capturing page", "url", pageURL, "extractor", cfg.Extractor)
	res, err := enc.EncodeURL(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("encode %s: %w", pageURL, err)
	}
	for _, s := range res.Skipped {
		logger.Warn("subresource skipped", "url", s.URL, "err", s.Err)
	}

	if dst == "" {
		_, err = os.Stdout.Write(res.Raw)
		return err
	}
	if err := os.WriteFile(dst, res.Raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	logger.Info("page saved", "dst", dst, "parts", len(res.Document.Resources)+1, "skipped", len(res.Skipped))
	return nil
}

// openRedis returns nil when no Redis URL is configured.
func openRedis(cfg config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func newFetcher(cfg config.Config, rdb *redis.Client, logger *slog.Logger) fetch.Fetcher {
	var f fetch.Fetcher = fetch.NewHTTP(nil, fetch.HTTPOptions{
		UserAgent:   cfg.UserAgent,
		BearerToken: cfg.BearerToken,
		TokenHosts:  cfg.TokenHosts,
		Timeout:     cfg.Timeout,
		MaxBytes:    cfg.MaxBytes,
	}, logger)
	if rdb != nil {
		f = fetch.NewCache(f, rdb, cfg.CacheTTL, logger)
	}
	return f
}

// setupLogger writes to stderr so stdout stays free for MHTML output.
func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mhtml-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
