package mhtml

import (
	"fmt"
	"sort"
	"strings"
)

// Action says how a typed link is embedded.
type Action int

const (
	ActionBase64 Action = iota + 1
	ActionQuotedPrintable
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionBase64:
		return "base64"
	case ActionQuotedPrintable:
		return "quoted-printable"
	case ActionIgnore:
		return "ignore"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Policy holds the static classification tables of the encoder.
type Policy struct {
	// Link MIME types embedded as base64.
	Base64Types []string `yaml:"base64"`
	// Link MIME types embedded as quoted-printable.
	QuotedPrintableTypes []string `yaml:"quoted_printable"`
	// Link MIME types dropped without a part.
	IgnoreTypes []string `yaml:"ignore"`
	// Signatures maps a content-sniffer signature to the MIME type of an
	// image part. A key matches when it equals the signature or is contained
	// in it.
	Signatures map[string]string `yaml:"signatures"`
}

// DefaultPolicy returns the built-in tables.
func DefaultPolicy() Policy {
	return Policy{
		Base64Types:          []string{"image/png", "image/x-icon"},
		QuotedPrintableTypes: []string{"text/css", "text/javascript"},
		IgnoreTypes:          []string{"application/rss+xml"},
		Signatures: map[string]string{
			"image/gif":                "image/gif",
			"image/png":                "image/png",
			"image/vnd.mozilla.apng":   "image/png",
			"image/jpeg":               "image/jpeg",
			"image/x-icon":             "image/x-icon",
			"image/vnd.microsoft.icon": "image/x-icon",
			"GIF image data":           "image/gif",
			"PNG image data":           "image/png",
			"JPEG image data":          "image/jpeg",
			"MS Windows icon resource": "image/x-icon",
		},
	}
}

func mediaType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func containsType(list []string, t string) bool {
	for _, v := range list {
		if mediaType(v) == t {
			return true
		}
	}
	return false
}

// Classify returns the action for a typed link's declared MIME type. Types in
// none of the tables fail with ErrUnknownMimeType.
func (p Policy) Classify(mimeType string) (Action, error) {
	t := mediaType(mimeType)
	switch {
	case containsType(p.Base64Types, t):
		return ActionBase64, nil
	case containsType(p.QuotedPrintableTypes, t):
		return ActionQuotedPrintable, nil
	case containsType(p.IgnoreTypes, t):
		return ActionIgnore, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMimeType, mimeType)
}

// ImageType maps a sniffed signature to the MIME type of an image part.
// Unknown signatures fail with ErrUnrecognizedContentSignature.
func (p Policy) ImageType(signature string) (string, error) {
	if t, ok := p.Signatures[signature]; ok {
		return t, nil
	}
	keys := make([]string, 0, len(p.Signatures))
	for k := range p.Signatures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != "" && strings.Contains(signature, k) {
			return p.Signatures[k], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedContentSignature, signature)
}
