package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const stateFile = "captured.jsonl"

// fileRecord is one line of the capture journal.
type fileRecord struct {
	Hash       string    `json:"hash"`
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"captured_at"`
}

// FileTracker journals captures to a JSON-lines file in the state directory.
// Loading replays the journal, so a page captured again after its previous
// capture expired is represented by the newest line.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool

	writeMu sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
}

func NewFileTracker(stateDir string, persist bool, ttl time.Duration) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	f := &FileTracker{
		MemoryTracker: NewMemoryTracker(ttl),
		path:          filepath.Join(stateDir, stateFile),
		persist:       persist,
	}
	if err := f.replay(); err != nil {
		return nil, err
	}
	if !persist {
		return f, nil
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	f.file = file
	f.buf = bufio.NewWriterSize(file, 64*1024)
	f.enc = json.NewEncoder(f.buf)
	return f, nil
}

func (f *FileTracker) replay() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	now := f.now()
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		// Lines without a timestamp predate expiry and are treated as stale.
		if rec.Hash == "" || !f.live(capture{at: rec.CapturedAt}, now) {
			continue
		}
		f.captures[rec.Hash] = capture{url: rec.URL, at: rec.CapturedAt}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	return nil
}

func (f *FileTracker) MarkProcessed(_ context.Context, hash, url string) error {
	at := f.now()
	if !f.record(hash, url, at) || !f.persist {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.enc == nil {
		return errors.New("state file is closed")
	}
	if err := f.enc.Encode(fileRecord{Hash: hash, URL: url, CapturedAt: at.UTC()}); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	return nil
}

// Flush writes buffered records through to disk.
func (f *FileTracker) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.flushLocked()
}

func (f *FileTracker) flushLocked() error {
	if f.buf == nil {
		return nil
	}
	if err := f.buf.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

func (f *FileTracker) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.flushLocked()
	if cerr := f.file.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close state file: %w", cerr))
	}
	f.file, f.buf, f.enc = nil, nil, nil
	return err
}
