package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mhtml/model"
)

// Sender is written into the "From " separator line of every message.
const Sender = "mhtml@localhost"

// Writer is a sink appending each capture to an mbox file.
type Writer struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	file  *os.File
	mbox  *mboxlib.Writer
	count int
}

// NewWriter opens path for appending, creating it if needed.
func NewWriter(path string, logger *slog.Logger) (*Writer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		path:   path,
		logger: logger,
		file:   file,
		mbox:   mboxlib.NewWriter(file),
	}, nil
}

func (w *Writer) Name() string {
	return "mbox"
}

func (w *Writer) Deliver(_ context.Context, c model.Capture) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mbox == nil {
		return fmt.Errorf("mbox %s is closed", w.path)
	}
	msg, err := w.mbox.CreateMessage(Sender, c.CapturedAt)
	if err != nil {
		return fmt.Errorf("create mbox message: %w", err)
	}
	if _, err := msg.Write(c.Raw); err != nil {
		return fmt.Errorf("write mbox message: %w", err)
	}
	w.count++
	w.logger.Debug("appended capture to mbox", "url", c.URL, "path", w.path, "index", w.count)
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mbox == nil {
		return nil
	}
	var firstErr error
	if err := w.mbox.Close(); err != nil {
		firstErr = fmt.Errorf("close mbox writer: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox file: %w", err)
	}
	w.mbox, w.file = nil, nil
	return firstErr
}

// Read opens an mbox file and calls fn with the raw bytes of every message.
func Read(path string, fn func(idx int, raw []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return ReadFrom(file, fn)
}

// ReadFrom is Read on an already open archive. Line endings are returned as
// LF. An error returned by fn stops the iteration and is returned unchanged.
func ReadFrom(r io.Reader, fn func(idx int, raw []byte) error) error {
	reader := mboxlib.NewReader(r)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}
		// The reader yields CRLF line endings; captures are written with LF
		// and carry any literal CR escaped inside their parts.
		raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}
