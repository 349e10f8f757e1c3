package sniff

import "github.com/gabriel-vasile/mimetype"

// Sniffer returns a signature string describing data.
type Sniffer interface {
	Sniff(data []byte) string
}

// SnifferFunc adapts a function to a Sniffer.
type SnifferFunc func(data []byte) string

func (f SnifferFunc) Sniff(data []byte) string {
	return f(data)
}

// Mime detects the content signature from magic numbers. The signature is
// the detected MIME type, e.g. "image/png", or "application/octet-stream"
// when nothing matches.
type Mime struct{}

func (Mime) Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}
