// Package transfer implements the two Content-Transfer-Encodings used in
// MHTML files: quoted-printable for text and line-wrapped base64 for binary
// data.
package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/dhcgn/mhtml/model"
)

// LineLength is the width of every base64 line except the last.
const LineLength = 76

var (
	ErrMalformed           = errors.New("malformed transfer encoding")
	ErrUnsupportedEncoding = errors.New("unsupported transfer encoding")
)

var newlineStripper = strings.NewReplacer("\r", "", "\n", "")

// EncodeQuotedPrintable encodes data as quoted-printable. Newlines in data stay
// literal line breaks so text remains readable; carriage returns, '=' and
// bytes outside printable ASCII are escaped, as is whitespace at the end of a
// line. Long lines get soft breaks.
func EncodeQuotedPrintable(data []byte) string {
	var sb strings.Builder
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(encodeQuotedPrintableLine(line))
	}
	return sb.String()
}

func encodeQuotedPrintableLine(line string) string {
	if line == "" {
		return ""
	}
	var sb strings.Builder
	w := quotedprintable.NewWriter(&sb)
	// Binary mode escapes CR, so the only line breaks written are soft ones.
	w.Binary = true
	// Writes to a strings.Builder cannot fail.
	_, _ = io.WriteString(w, line)
	_ = w.Close()
	return strings.ReplaceAll(sb.String(), "\r\n", "\n")
}

// DecodeQuotedPrintable is the inverse of EncodeQuotedPrintable. Both \n and
// \r\n line endings are accepted.
func DecodeQuotedPrintable(text string) ([]byte, error) {
	if err := checkEscapes(text); err != nil {
		return nil, fmt.Errorf("%w: quoted-printable: %v", ErrMalformed, err)
	}
	data, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(text)))
	if err != nil {
		return nil, fmt.Errorf("%w: quoted-printable: %v", ErrMalformed, err)
	}
	return data, nil
}

// checkEscapes rejects an '=' that starts neither a two digit hex escape nor
// a soft line break. mime/quotedprintable passes such bytes through as
// literals.
func checkEscapes(text string) error {
	for i := 0; i < len(text); i++ {
		if text[i] != '=' {
			continue
		}
		if i+2 < len(text) && isHex(text[i+1]) && isHex(text[i+2]) {
			i += 2
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j < len(text) && (text[j] == '\n' || strings.HasPrefix(text[j:], "\r\n")) {
			continue
		}
		if j == len(text) {
			return fmt.Errorf("'=' at end of input (offset %d)", i)
		}
		return fmt.Errorf("invalid escape %q at offset %d", text[i:min(i+3, len(text))], i)
	}
	return nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('A' <= c && c <= 'F') || ('a' <= c && c <= 'f')
}

// EncodeBase64 encodes data with the standard alphabet, wrapped at LineLength
// characters. Lines are joined by \n and the output has no trailing newline.
func EncodeBase64(data []byte) string {
	s := base64.StdEncoding.EncodeToString(data)
	if len(s) <= LineLength {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + len(s)/LineLength)
	for pos := 0; pos < len(s); pos += LineLength {
		if pos > 0 {
			sb.WriteByte('\n')
		}
		end := pos + LineLength
		if end > len(s) {
			end = len(s)
		}
		sb.WriteString(s[pos:end])
	}
	return sb.String()
}

// DecodeBase64 decodes base64 text, ignoring embedded line breaks.
func DecodeBase64(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(newlineStripper.Replace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	return data, nil
}

// Encode encodes data with the given transfer encoding.
func Encode(enc model.TransferEncoding, data []byte) (string, error) {
	switch enc {
	case model.QuotedPrintable:
		return EncodeQuotedPrintable(data), nil
	case model.Base64:
		return EncodeBase64(data), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
}

// Decode decodes text framed with the given transfer encoding.
func Decode(enc model.TransferEncoding, text string) ([]byte, error) {
	switch enc {
	case model.QuotedPrintable:
		return DecodeQuotedPrintable(text)
	case model.Base64:
		return DecodeBase64(text)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
}
