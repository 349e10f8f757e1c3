package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mhtml/config"
	"github.com/dhcgn/mhtml/filter"
	"github.com/dhcgn/mhtml/mbox"
	"github.com/dhcgn/mhtml/mhtml"
	"github.com/dhcgn/mhtml/output"
	"github.com/dhcgn/mhtml/store"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file> [dstdir]",
	Short: "Write the parts of an MHTML file into a directory",
	Args:  cobra.RangeArgs(1, 2),
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

		return runParse(cmd.Context(), cfg, logger, args[0], argOr(args, 1, "."))
	},
}

func init() {
	config.RegisterPartFlags(parseCmd)
	rootCmd.AddCommand(parseCmd)
}

func newFilter(cfg config.Config) (*filter.Filter, error) {
	f, err := filter.New(filter.Options{
		IncludeType:     cfg.IncludeType,
		IncludeLocation: cfg.IncludeLocation,
		ExcludeType:     cfg.ExcludeType,
		ExcludeLocation: cfg.ExcludeLocation,
	})
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	return f, nil
}

func runParse(ctx context.Context, cfg config.Config, logger *slog.Logger, src, dst string) error {
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	dec := mhtml.NewDecoder(codec, logger)

	f, err := newFilter(cfg)
	if err != nil {
		return err
	}

	switch {
	case cfg.PostgresDSN != "":
		st, err := store.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		c, err := st.Get(ctx, src)
		if err != nil {
			return err
		}
		logger.Info("loaded capture", "url", c.URL, "capturedAt", c.CapturedAt)
		return writeParts(dec, c.Raw, dst, f, logger)

	case cfg.FromMbox:
		count := 0
		err := mbox.Read(src, func(idx int, raw []byte) error {
			count++
			return writeParts(dec, raw, filepath.Join(dst, fmt.Sprintf("%04d", idx+1)), f, logger)
		})
		if err != nil {
			return err
		}
		logger.Info("mbox extracted", "messages", count, "dst", dst)
		return nil

	default:
		raw, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
		return writeParts(dec, raw, dst, f, logger)
	}
}

func writeParts(dec *mhtml.Decoder, raw []byte, dir string, f *filter.Filter, logger *slog.Logger) error {
	file, err := dec.Decode(raw)
	if err != nil {
		return err
	}
	for _, perr := range file.Errors {
		logger.Warn("malformed part skipped", "index", perr.Index, "location", perr.Location, "err", perr.Err)
	}

	written, err := output.WriteParts(dir, file.Parts, f)
	if err != nil {
		return err
	}
	logger.Info("parts written",
		"dir", dir,
		"subject", file.Envelope.Subject,
		"parts", len(file.Parts),
		"written", len(written),
		"malformed", len(file.Errors),
	)
	return nil
}
