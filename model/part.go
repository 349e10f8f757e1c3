package model

import (
	"fmt"
	"strings"
	"time"
)

// TransferEncoding names the Content-Transfer-Encoding a part is framed with.
type TransferEncoding string

const (
	QuotedPrintable TransferEncoding = "quoted-printable"
	Base64          TransferEncoding = "base64"
)

// ParseTransferEncoding maps a header value onto a known TransferEncoding.
func ParseTransferEncoding(s string) (TransferEncoding, error) {
	switch TransferEncoding(strings.ToLower(strings.TrimSpace(s))) {
	case QuotedPrintable:
		return QuotedPrintable, nil
	case Base64:
		return Base64, nil
	}
	return "", fmt.Errorf("unsupported transfer encoding %q", s)
}

// Part is a single MIME body segment. Body always holds the decoded payload;
// TransferEncoding records how it is framed on the wire.
type Part struct {
	ContentType      string
	TransferEncoding TransferEncoding
	Location         string
	Body             []byte
}

// Envelope is the message-level metadata of an MHTML file.
type Envelope struct {
	Subject  string
	Charset  string
	Boundary string
	Date     time.Time
}

// Document is the working set of an encode: the HTML page followed by its
// subresources.
type Document struct {
	HTML      Part
	Resources []Part
}

// Parts returns the HTML part followed by the resources.
func (d Document) Parts() []Part {
	parts := make([]Part, 0, len(d.Resources)+1)
	parts = append(parts, d.HTML)
	return append(parts, d.Resources...)
}

// PartError reports a segment that could not be decoded.
type PartError struct {
	Index    int
	Location string
	Err      error
}

func (e PartError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("segment %d (%s): %v", e.Index, e.Location, e.Err)
}

func (e PartError) Unwrap() error {
	return e.Err
}

// File is the result of decoding an MHTML message. Parts keep the order in
// which they appeared between boundary markers.
type File struct {
	Envelope Envelope
	Parts    []Part
	Errors   []PartError
}
