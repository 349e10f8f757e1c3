package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mhtml/stats"
)

// Bar manages a progress bar for tracking URL captures.
type Bar struct {
	pb          *pterm.ProgressbarPrinter
	total       int
	alreadyDone int
	finished    int
	mu          sync.Mutex
	enabled     bool
	stopped     bool
}

// New creates a new progress bar if logLevel is "info" and there is work.
func New(total, alreadyDone int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:       total,
		alreadyDone: alreadyDone,
		enabled:     enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Capturing pages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("URLs in list: %d\n", total)
		pterm.Info.Printf("Already captured: %d\n", alreadyDone)
		pterm.Info.Printf("Remaining to capture: %d\n", total-alreadyDone)
		pterm.Println()
	}

	return bar
}

// Update advances the bar once per URL that reached a final state.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	switch evt.Type {
	case stats.EventTypeQueued:
		if evt.URL != "" {
			display := evt.URL
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			b.pb.UpdateTitle("Capturing: " + display)
		}
	case stats.EventTypeCaptured, stats.EventTypeDuplicate:
		b.finished++
		b.pb.Increment()
	case stats.EventTypeError:
		if evt.Stage == stats.StageCapture {
			b.finished++
			b.pb.Increment()
		}
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Capture complete!")
}

// Reporter wraps the stats collector with a progress bar and prints a pterm
// summary once the event stream ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar to stream. When the bar is disabled the
// caller should rely on stats.Reporter instead.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress", reporter.consume)
	}

	return reporter
}

// Finished counts the URLs that reached a final state.
func (b *Bar) Finished() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Enabled reports whether the bar renders at all.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

func (r *Reporter) consume(ctx context.Context, events <-chan stats.Event) error {
	defer r.bar.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				r.printSummary()
				return nil
			}
			r.collector.Apply(evt)
			r.bar.Update(evt)
		}
	}
}

func (r *Reporter) printSummary() {
	summary := r.collector.Snapshot()

	r.bar.Stop()
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", time.Since(r.started))
	pterm.Info.Printf("Queued: %d\n", summary.Queued)
	pterm.Info.Printf("Captured: %d\n", summary.Captured)
	pterm.Info.Printf("Subresources skipped: %d\n", summary.SkippedResources)
	pterm.Info.Printf("Delivered: %d\n", summary.Delivered)
	pterm.Info.Printf("Dry-run: %d\n", summary.DryRun)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	if r.logger != nil {
		r.logger.Debug("progress summary printed", summary.LogAttrs()...)
	}
}

// Summary returns the counters collected so far.
func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}
