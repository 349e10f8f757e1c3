package model

import "time"

// Capture is one encoded MHTML message produced for a URL.
type Capture struct {
	URL        string
	Hash       string
	Title      string
	CapturedAt time.Time
	// Parts counts the parts in Raw, the HTML page included.
	Parts int
	// Skipped lists subresources left out because their fetch failed.
	Skipped []string
	Raw     []byte
}

// CaptureResult wraps a capture alongside an optional error encountered while
// producing it.
type CaptureResult struct {
	Capture Capture
	Err     error
}
