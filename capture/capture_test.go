package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhcgn/mhtml/mhtml"
	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/runner"
	"github.com/dhcgn/mhtml/state"
	"github.com/dhcgn/mhtml/stats"
)

func TestReadURLs(t *testing.T) {
	in := "# pages to archive\nhttps://example.com/\n\n   https://example.com/blog  \n#https://skipped.example/\n"
	got, err := ReadURLs(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadURLs() error = %v", err)
	}
	want := []string{"https://example.com/", "https://example.com/blog"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ReadURLs() = %v, want %v", got, want)
	}
}

type fakeEncoder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEncoder) EncodeURL(_ context.Context, url string) (*mhtml.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if strings.HasSuffix(url, "/broken") {
		return nil, mhtml.ErrUnknownMimeType
	}
	res := &mhtml.Result{
		Envelope: model.Envelope{Subject: "Title of " + url, Date: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)},
		Document: model.Document{Resources: []model.Part{{Location: url + "/a.png"}}},
		Raw:      []byte("raw " + url),
	}
	res.Skipped = []mhtml.Skipped{{URL: url + "/missing.css", Err: mhtml.ErrFetchFailed}}
	return res, nil
}

type recordSink struct {
	mu  sync.Mutex
	got []model.Capture
}

func (s *recordSink) Name() string { return "record" }
func (s *recordSink) Close() error { return nil }
func (s *recordSink) Deliver(_ context.Context, c model.Capture) error {
	s.mu.Lock()
	s.got = append(s.got, c)
	s.mu.Unlock()
	return nil
}

func TestProducer(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := state.NewMemoryTracker(0)
	if err := tracker.MarkProcessed(ctx, state.Key("https://example.com/old"), "https://example.com/old"); err != nil {
		t.Fatal(err)
	}

	r, err := runner.New(ctx, runner.Options{}, tracker, logger)
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordSink{}
	r.AddSink(sink)
	collector := stats.NewCollector()
	r.SubscribeStats("test", func(ctx context.Context, events <-chan stats.Event) error {
		collector.Run(ctx, events)
		return nil
	})

	enc := &fakeEncoder{}
	urls := []string{"https://example.com/new", "https://example.com/old", "https://example.com/broken"}
	if got := Pending(ctx, tracker, urls); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}
	NewProducer(urls, enc, r, logger)

	err = r.Start()
	if !errors.Is(err, runner.ErrCapturesFailed) {
		t.Fatalf("Start() error = %v, want ErrCapturesFailed", err)
	}

	if len(enc.calls) != 2 {
		t.Errorf("encoder called for %v, want new and broken only", enc.calls)
	}
	if len(sink.got) != 1 {
		t.Fatalf("sink got %d captures, want 1", len(sink.got))
	}
	c := sink.got[0]
	if c.URL != "https://example.com/new" || c.Hash != state.Key(c.URL) {
		t.Errorf("capture = %q hash %q", c.URL, c.Hash)
	}
	if c.Title != "Title of https://example.com/new" || c.Parts != 2 || string(c.Raw) != "raw https://example.com/new" {
		t.Errorf("capture fields = %+v", c)
	}
	if len(c.Skipped) != 1 || c.Skipped[0] != "https://example.com/new/missing.css" {
		t.Errorf("Skipped = %v", c.Skipped)
	}

	s := collector.Snapshot()
	want := stats.Summary{Queued: 3, Captured: 1, SkippedResources: 1, Delivered: 1, Duplicates: 1, Errors: 1}
	s.LastError = nil
	if s != want {
		t.Errorf("summary = %+v, want %+v", s, want)
	}
}
