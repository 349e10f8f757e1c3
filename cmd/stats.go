package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mhtml/config"
	"github.com/dhcgn/mhtml/filter"
	"github.com/dhcgn/mhtml/mbox"
	"github.com/dhcgn/mhtml/mhtml"
	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/stats"
)

var (
	reportDir string
	topN      int
)

// Report categories, in print order.
const (
	categoryContentType = "Content-Type"
	categoryHost        = "Host"
	categoryEncoding    = "Transfer-Encoding"
	categoryMalformed   = "Malformed"
)

var categories = []string{categoryContentType, categoryHost, categoryEncoding, categoryMalformed}

var statsCmd = &cobra.Command{
	Use:   "stats <file>...",
	Short: "Analyse MHTML files and show part statistics",
	Args:  cobra.MinimumNArgs(1),
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

		codec, err := cfg.Codec()
		if err != nil {
			return err
		}
		// Malformed parts are counted, never fatal.
		codec.Strict = false
		dec := mhtml.NewDecoder(codec, logger)

		f, err := newFilter(cfg)
		if err != nil {
			return err
		}

		fmt.Println("Analyzing:", strings.Join(args, ", "))

		a := newAnalysis(f)
		analyse := func(raw []byte) error {
			a.add(dec, raw)
			if a.messages%250 == 0 {
				// ANSI escape code to clear screen and move cursor to top-left
				fmt.Print("\033[H\033[2J")
				a.print(os.Stdout, topN)
			}
			return nil
		}

		for _, path := range args {
			if cfg.FromMbox {
				err = mbox.Read(path, func(_ int, raw []byte) error { return analyse(raw) })
			} else {
				var raw []byte
				raw, err = os.ReadFile(path)
				if err == nil {
					err = analyse(raw)
				}
			}
			if err != nil {
				return fmt.Errorf("error reading %s: %w", path, err)
			}
		}

		// Final print
		a.print(os.Stdout, topN)

		if err := saveCSVReports(a.counter, categories, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("\nReports saved to directory: %s\n", reportDir)

		return nil
	},
}

func init() {
	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	config.RegisterPartFlags(statsCmd)
	rootCmd.AddCommand(statsCmd)
}

// analysis counts parts per category across decoded messages.
type analysis struct {
	filter   *filter.Filter
	counter  map[string]map[string]int
	messages int
	failed   int
	parts    int
	skipped  int
}

func newAnalysis(f *filter.Filter) *analysis {
	counter := make(map[string]map[string]int, len(categories))
	for _, c := range categories {
		counter[c] = make(map[string]int)
	}
	return &analysis{filter: f, counter: counter}
}

func (a *analysis) add(dec *mhtml.Decoder, raw []byte) {
	a.messages++
	file, err := dec.Decode(raw)
	if err != nil {
		a.failed++
		a.counter[categoryMalformed][rootCause(err)]++
		return
	}

	for _, perr := range file.Errors {
		a.counter[categoryMalformed][rootCause(perr.Err)]++
	}

	for _, p := range file.Parts {
		if !a.filter.Allows(p) {
			a.skipped++
			continue
		}
		a.parts++
		a.counter[categoryContentType][mediaTypeOf(p)]++
		a.counter[categoryHost][hostOf(p.Location)]++
		a.counter[categoryEncoding][string(p.TransferEncoding)]++
	}
}

func (a *analysis) print(w io.Writer, limit int) {
	total := a.parts + a.skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(a.skipped) / float64(total) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (%d undecodable), %d parts (skipped %d by filters, %.2f%%)...\n\n",
		a.messages, a.failed, a.parts, a.skipped, filterPercent)

	filterStats := a.filter.GetStats()
	hasFilterStats := false
	groups := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Type Filters", filterStats.IncludeTypePatterns, filterStats.IncludeTypeHits},
		{"Include Location Filters", filterStats.IncludeLocationPatterns, filterStats.IncludeLocationHits},
		{"Exclude Type Filters", filterStats.ExcludeTypePatterns, filterStats.ExcludeTypeHits},
		{"Exclude Location Filters", filterStats.ExcludeLocationPatterns, filterStats.ExcludeLocationHits},
	}
	for _, g := range groups {
		if len(g.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Fprintf(w, "%s:\n", g.title)
		printFilterHits(w, g.patterns, g.hits)
		fmt.Fprintln(w)
	}
	if hasFilterStats {
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, c := range categories {
		fmt.Fprintf(w, "Top %d %s:\n", limit, c)
		stats.PrettyPrintTop(w, a.counter[c], limit)
		fmt.Fprintln(w)
	}
}

func mediaTypeOf(p model.Part) string {
	ct := strings.TrimSpace(p.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" {
		return "(none)"
	}
	return strings.ToLower(ct)
}

func hostOf(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "(none)"
	}
	return strings.ToLower(u.Host)
}

// rootCause strips the wrapping context so equal failures count together.
func rootCause(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func saveCSVReports(counter map[string]map[string]int, names []string, dir string, limit int) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write data for each category to a separate file
	for _, name := range names {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeName(name)))

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		for _, p := range stats.Top(counter[name], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeName(name string) string {
	// Convert to lowercase and replace invalid filename chars
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(w io.Writer, patterns []string, hits map[string]int) {
	counts := make(map[string]int, len(patterns))
	for _, pattern := range patterns {
		counts[pattern] = hits[pattern]
	}

	for _, p := range stats.Top(counts, 0) {
		if p.Value > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", p.Key, p.Value)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", p.Key)
		}
	}
}
