// Package header builds and parses the header blocks of an MHTML message: the
// envelope at the top of the file and the three-field block in front of every
// part.
package header

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/mhtml/model"
)

// From is the fixed originator written into every envelope.
const From = "<saved by mhtml>"

// DateLayout is the layout of the envelope Date header.
const DateLayout = time.RFC1123Z

var (
	contentTypePattern      = regexp.MustCompile(`(?im)^content-type:[ \t]*(.*)$`)
	transferEncodingPattern = regexp.MustCompile(`(?im)^content-transfer-encoding:[ \t]*(.*)$`)
	locationPattern         = regexp.MustCompile(`(?im)^content-location:[ \t]*(.*)$`)

	quotedBoundaryPattern   = regexp.MustCompile(`(?i)boundary *= *" *([^"]*)`)
	unquotedBoundaryPattern = regexp.MustCompile(`(?i)boundary *= *([^\s";]+)`)

	encodedWordCharset = regexp.MustCompile(`^=\?([^?]*)\?[qQbB]\?`)
)

// QEncode returns title as an RFC 2047 "Q" encoded word in the given charset.
// The word is always produced, even for plain ASCII titles.
func QEncode(title, charset string) string {
	var sb strings.Builder
	sb.WriteString("=?")
	sb.WriteString(charset)
	sb.WriteString("?Q?")
	for i := 0; i < len(title); i++ {
		c := title[i]
		switch {
		case c == ' ':
			sb.WriteByte('_')
		case c > ' ' && c <= '~' && c != '=' && c != '?' && c != '_':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "=%02X", c)
		}
	}
	sb.WriteString("?=")
	return sb.String()
}

// BuildEnvelope returns the message header block. subject must already be
// encoded.
func BuildEnvelope(subject string, date time.Time, boundary string) string {
	return fmt.Sprintf("From: %s\n"+
		"Subject: %s\n"+
		"Date: %s\n"+
		"MIME-Version: 1.0\n"+
		"Content-Type: multipart/related;\n"+
		"\tboundary=\"%s\";\n"+
		"\ttype=\"text/html\"\n",
		From, subject, date.Format(DateLayout), boundary)
}

// BuildPart returns the header block of a part, including the blank line
// that separates it from the body.
func BuildPart(enc model.TransferEncoding, contentType, location string) string {
	return fmt.Sprintf("Content-Type: %s\nContent-Transfer-Encoding: %s\nContent-Location: %s\n\n",
		contentType, enc, location)
}

// PartHeader holds the fields of a part header block. Missing fields are
// empty.
type PartHeader struct {
	ContentType      string
	TransferEncoding string
	Location         string
}

// IsData reports whether the segment carries a body. Segments without a
// Content-Transfer-Encoding, like the preamble, are header-only.
func (h PartHeader) IsData() bool {
	return h.TransferEncoding != ""
}

// ParsePart extracts the part fields from the header block of segment.
func ParsePart(segment string) PartHeader {
	head, _ := SplitSegment(segment)
	return PartHeader{
		ContentType:      firstField(contentTypePattern, head),
		TransferEncoding: firstField(transferEncodingPattern, head),
		Location:         firstField(locationPattern, head),
	}
}

func firstField(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// FindBoundary returns the boundary parameter of the first Content-Type
// header in raw.
func FindBoundary(raw string) (string, bool) {
	if m := quotedBoundaryPattern.FindStringSubmatch(raw); m != nil {
		b := strings.TrimRight(m[1], " \t")
		return b, b != ""
	}
	if m := unquotedBoundaryPattern.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	return "", false
}

// SplitSegment splits the text between two delimiters into header block and
// body. The line break following the opening delimiter and the one preceding
// the next delimiter belong to the delimiters and are dropped.
func SplitSegment(segment string) (head, body string) {
	switch {
	case strings.HasPrefix(segment, "\r\n"):
		segment = segment[2:]
	case strings.HasPrefix(segment, "\n"):
		segment = segment[1:]
	}
	switch {
	case strings.HasSuffix(segment, "\r\n"):
		segment = segment[:len(segment)-2]
	case strings.HasSuffix(segment, "\n"):
		segment = segment[:len(segment)-1]
	}

	idx, sepLen := strings.Index(segment, "\n\n"), 2
	if crlf := strings.Index(segment, "\n\r\n"); crlf >= 0 && (idx < 0 || crlf < idx) {
		idx, sepLen = crlf, 3
	}
	if idx < 0 {
		return segment, ""
	}
	return strings.TrimSuffix(segment[:idx], "\r"), segment[idx+sepLen:]
}

// ParseEnvelope reads the message header block in front of the first
// delimiter. The Subject encoded word is decoded to UTF-8.
func ParseEnvelope(preamble string) (model.Envelope, error) {
	head, _ := SplitSegment(strings.TrimLeft(preamble, "\r\n"))
	text := strings.TrimRight(head, "\r\n") + "\r\n\r\n"

	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(text)))
	if err != nil {
		return model.Envelope{}, fmt.Errorf("read envelope header: %w", err)
	}
	mh := mail.Header{Header: message.Header{Header: h}}

	env := model.Envelope{}
	if _, params, err := mh.ContentType(); err == nil {
		env.Boundary = params["boundary"]
	}
	if env.Boundary == "" {
		env.Boundary, _ = FindBoundary(head)
	}

	raw := strings.TrimSpace(mh.Get("Subject"))
	if m := encodedWordCharset.FindStringSubmatch(raw); m != nil {
		env.Charset = m[1]
	}
	subject, err := mh.Subject()
	if err != nil {
		subject = raw
	}
	env.Subject = subject

	if mh.Has("Date") {
		date, err := mh.Date()
		if err != nil {
			return env, fmt.Errorf("parse envelope date: %w", err)
		}
		env.Date = date
	}

	return env, nil
}
