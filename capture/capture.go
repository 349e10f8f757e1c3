package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dhcgn/mhtml/metrics"
	"github.com/dhcgn/mhtml/mhtml"
	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/runner"
	"github.com/dhcgn/mhtml/state"
	"github.com/dhcgn/mhtml/stats"
)

// Encoder encodes the page behind a URL.
type Encoder interface {
	EncodeURL(ctx context.Context, url string) (*mhtml.Result, error)
}

// ReadURLs reads one URL per line. Blank lines and lines starting with '#'
// are skipped.
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// ReadURLsFile reads a URL list from path. "-" reads standard input.
func ReadURLsFile(path string) ([]string, error) {
	if path == "-" {
		return ReadURLs(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer file.Close()
	return ReadURLs(file)
}

type Producer struct {
	urls    []string
	encoder Encoder
	runner  *runner.Runner
	logger  *slog.Logger
}

// NewProducer registers a capture stage on r that encodes urls in order.
func NewProducer(urls []string, enc Encoder, r *runner.Runner, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{urls: urls, encoder: enc, runner: r, logger: logger}
	r.AddStage("capture", p.run)
	return p
}

// Pending counts the URLs tracker has not seen yet. Call it before the
// producer starts.
func Pending(ctx context.Context, tracker state.Tracker, urls []string) int {
	n := 0
	for _, u := range urls {
		if !tracker.AlreadyProcessed(ctx, state.Key(u)) {
			n++
		}
	}
	return n
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseCaptures()
	out := p.runner.CaptureWriter()
	tracker := p.runner.Tracker()

	for _, u := range p.urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.runner.EmitEvent(stats.Event{Stage: stats.StageCapture, Type: stats.EventTypeQueued, URL: u})

		hash := state.Key(u)
		if tracker.AlreadyProcessed(ctx, hash) {
			p.runner.EmitEvent(stats.Event{Stage: stats.StageCapture, Type: stats.EventTypeDuplicate, URL: u})
			metrics.Capture("duplicate")
			p.logger.Debug("already captured", "url", u)
			continue
		}

		res := model.CaptureResult{Capture: model.Capture{URL: u, Hash: hash}}
		encoded, err := p.encoder.EncodeURL(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Err = err
		} else {
			res.Capture = newCapture(u, hash, encoded)
			for _, s := range encoded.Skipped {
				p.runner.EmitEvent(stats.Event{Stage: stats.StageCapture, Type: stats.EventTypeSkipped, URL: s.URL, Err: s.Err})
			}
			p.runner.EmitEvent(stats.Event{Stage: stats.StageCapture, Type: stats.EventTypeCaptured, URL: u})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- res:
		}
	}
	return nil
}

func newCapture(url, hash string, res *mhtml.Result) model.Capture {
	c := model.Capture{
		URL:        url,
		Hash:       hash,
		Title:      res.Envelope.Subject,
		CapturedAt: res.Envelope.Date,
		Parts:      len(res.Document.Resources) + 1,
		Raw:        res.Raw,
	}
	for _, s := range res.Skipped {
		c.Skipped = append(c.Skipped, s.URL)
	}
	return c
}
