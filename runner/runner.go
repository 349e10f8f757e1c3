package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mhtml/metrics"
	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/state"
	"github.com/dhcgn/mhtml/stats"
)

var (
	ErrCaptureHashMissing = errors.New("capture missing hash")
	ErrCapturesFailed     = errors.New("captures failed")
)

type StageFunc func(context.Context) error

// Sink is a destination for finished captures.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, c model.Capture) error
	Close() error
}

type Options struct {
	// DryRun captures pages without delivering them to any sink.
	DryRun bool
	// QueueSize bounds the number of captures waiting for delivery.
	QueueSize int
}

type Runner struct {
	parent context.Context
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	captures chan model.CaptureResult
	events   chan stats.Event

	tracker state.Tracker
	sinks   []Sink

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu  sync.Mutex
	err    error
	failed int

	closeCapturesOnce sync.Once
	closeEventsOnce   sync.Once
	since             time.Time
}

// New creates a runner whose stages stop when parent is done.
func New(parent context.Context, opts Options, tracker state.Tracker, logger *slog.Logger) (*Runner, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}

	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		parent:   parent,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		captures: make(chan model.CaptureResult, opts.QueueSize),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
	}, nil
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

// AddSink registers a sink. Sinks must be added before Start.
func (r *Runner) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

func (r *Runner) CaptureWriter() chan<- model.CaptureResult {
	return r.captures
}

func (r *Runner) CloseCaptures() {
	r.closeCapturesOnce.Do(func() {
		close(r.captures)
	})
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start runs the delivery stage and blocks until every stage has finished.
// Sinks and the tracker are closed before the pipeline context is canceled.
func (r *Runner) Start() error {
	r.since = time.Now()
	r.AddStage("deliver", r.deliver)

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.fail(fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	if err := r.tracker.Close(); err != nil {
		r.fail(fmt.Errorf("close tracker: %w", err))
	}

	r.cancel()

	r.errMu.Lock()
	err, failed := r.err, r.failed
	r.errMu.Unlock()
	if err == nil && failed > 0 {
		err = fmt.Errorf("%d %w", failed, ErrCapturesFailed)
	}
	if err == nil {
		err = r.parent.Err()
	}

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) deliver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-r.captures:
			if !ok {
				return nil
			}

			if res.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageCapture, Type: stats.EventTypeError, URL: res.Capture.URL, Err: res.Err})
				r.logger.Error("capture failed", "url", res.Capture.URL, "err", res.Err)
				metrics.Capture("failed")
				r.errMu.Lock()
				r.failed++
				r.errMu.Unlock()
				continue
			}

			c := res.Capture
			if c.Hash == "" {
				r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeError, URL: c.URL, Err: ErrCaptureHashMissing})
				return fmt.Errorf("%s: %w", c.URL, ErrCaptureHashMissing)
			}

			if r.opts.DryRun {
				if err := r.tracker.MarkProcessed(ctx, c.Hash, c.URL); err != nil {
					r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeError, URL: c.URL, Err: err})
					return err
				}
				r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeDryRun, URL: c.URL})
				r.logger.Debug("dry-run capture", "url", c.URL, "bytes", len(c.Raw), "parts", c.Parts)
				metrics.Capture("dry_run")
				continue
			}

			for _, s := range r.sinks {
				if err := s.Deliver(ctx, c); err != nil {
					err = fmt.Errorf("%s sink: deliver %s: %w", s.Name(), c.URL, err)
					r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeError, URL: c.URL, Sink: s.Name(), Err: err})
					return err
				}
				r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeDelivered, URL: c.URL, Sink: s.Name()})
			}

			if err := r.tracker.MarkProcessed(ctx, c.Hash, c.URL); err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeError, URL: c.URL, Err: err})
				return err
			}
			metrics.Capture("delivered")
			r.logger.Debug("delivered capture", "url", c.URL, "sinks", len(r.sinks))
		}
	}
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
