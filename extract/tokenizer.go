package extract

import (
	"bytes"
	"mime"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// Tokenizer extracts by walking the document with the x/net/html tokenizer.
// Attribute order and quoting do not matter, and entities in the title and
// URLs are unescaped. Charset labels are normalized to their WHATWG names.
type Tokenizer struct{}

// walk calls fn for every start tag until fn returns false or the document
// ends. The tokenizer is positioned right after the tag when fn runs.
func walk(doc []byte, fn func(z *html.Tokenizer, tok html.Token) bool) {
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return
		case html.StartTagToken, html.SelfClosingTagToken:
			if !fn(z, z.Token()) {
				return
			}
		}
	}
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func (Tokenizer) Title(doc []byte) string {
	var title string
	walk(doc, func(z *html.Tokenizer, tok html.Token) bool {
		if tok.Data != "title" {
			return true
		}
		if z.Next() == html.TextToken {
			title = strings.TrimSpace(z.Token().Data)
		}
		return false
	})
	return title
}

func (Tokenizer) Charset(doc []byte) string {
	var label string
	walk(doc, func(_ *html.Tokenizer, tok html.Token) bool {
		if tok.Data != "meta" {
			return true
		}
		if v, ok := attr(tok, "charset"); ok {
			label = v
			return false
		}
		equiv, _ := attr(tok, "http-equiv")
		if !strings.EqualFold(equiv, "content-type") {
			return true
		}
		content, _ := attr(tok, "content")
		if _, params, err := mime.ParseMediaType(content); err == nil && params["charset"] != "" {
			label = params["charset"]
			return false
		}
		return true
	})

	if label == "" {
		// Only a byte order mark is authoritative without a declaration.
		if _, name, certain := charset.DetermineEncoding(doc, ""); certain {
			return name
		}
		return ""
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return label
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return label
	}
	return name
}

func (Tokenizer) Images(doc []byte) []string {
	var urls []string
	walk(doc, func(_ *html.Tokenizer, tok html.Token) bool {
		if tok.Data == "img" {
			if src, ok := attr(tok, "src"); ok && src != "" {
				urls = append(urls, src)
			}
		}
		return true
	})
	return dedup(urls)
}

func (Tokenizer) Links(doc []byte) []Link {
	var links []Link
	walk(doc, func(_ *html.Tokenizer, tok html.Token) bool {
		if tok.Data != "link" {
			return true
		}
		href, hasHref := attr(tok, "href")
		typ, hasType := attr(tok, "type")
		if hasHref && hasType && href != "" && typ != "" {
			links = append(links, Link{URL: href, ContentType: typ})
		}
		return true
	})
	return links
}
