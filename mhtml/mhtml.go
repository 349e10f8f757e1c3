// Package mhtml encodes an HTML page and its subresources into a single
// multipart/related message and decodes such messages back into parts.
package mhtml

import (
	"errors"
	"time"

	"github.com/dhcgn/mhtml/extract"
	"github.com/dhcgn/mhtml/transfer"
)

var (
	// ErrFetchFailed means a resource could not be retrieved. Subresources
	// failing this way are skipped; a failing main page aborts.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrUnrecognizedContentSignature means image bytes matched no known
	// signature. It aborts the encode.
	ErrUnrecognizedContentSignature = errors.New("unrecognized content signature")
	// ErrUnknownMimeType means a typed link's MIME type is in no policy
	// table. It aborts the encode.
	ErrUnknownMimeType = errors.New("unknown mime type")
	// ErrNoBoundaryFound means the message declares no multipart boundary.
	ErrNoBoundaryFound = errors.New("no boundary found")
	// ErrMalformedTransferEncoding means a part body does not decode with its
	// declared transfer encoding.
	ErrMalformedTransferEncoding = transfer.ErrMalformed
	// ErrBoundaryCollision means no boundary absent from all parts was found.
	ErrBoundaryCollision = errors.New("boundary collides with part content")
)

// DefaultCharset is used when a document declares no charset.
const DefaultCharset = "utf-8"

// Config carries the settings of an Encoder or Decoder. Values are copied
// into the constructors; nothing is shared between instances.
type Config struct {
	Policy    Policy
	Extractor extract.Extractor
	// DefaultCharset labels the Subject encoded word and the HTML part when
	// the document declares no charset, so the HTML part never carries an
	// empty charset="" parameter.
	DefaultCharset string
	// Strict makes the decoder fail on the first malformed part instead of
	// reporting it in File.Errors.
	Strict bool
	// Now returns the capture time. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the built-in policy with the pattern extractor.
func DefaultConfig() Config {
	return Config{
		Policy:         DefaultPolicy(),
		Extractor:      extract.Pattern{},
		DefaultCharset: DefaultCharset,
	}
}

func (c Config) withDefaults() Config {
	if c.Extractor == nil {
		c.Extractor = extract.Pattern{}
	}
	if c.DefaultCharset == "" {
		c.DefaultCharset = DefaultCharset
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
