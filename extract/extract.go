package extract

import "fmt"

// Link is a <link> reference with a declared MIME type.
type Link struct {
	URL         string
	ContentType string
}

// Extractor discovers the title, declared charset and referenced
// subresources of an HTML document.
type Extractor interface {
	// Title returns the first title of the document, or "".
	Title(html []byte) string
	// Charset returns the declared character encoding, or "".
	Charset(html []byte) string
	// Images returns the deduplicated <img> sources. Callers must not
	// depend on their order.
	Images(html []byte) []string
	// Links returns the typed <link> references in document order.
	Links(html []byte) []Link
}

// Names of the available extractors.
const (
	NamePattern   = "pattern"
	NameTokenizer = "tokenizer"
)

// New returns the extractor registered under name. The empty name selects
// Pattern.
func New(name string) (Extractor, error) {
	switch name {
	case "", NamePattern:
		return Pattern{}, nil
	case NameTokenizer:
		return Tokenizer{}, nil
	}
	return nil, fmt.Errorf("unknown extractor %q", name)
}

func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
