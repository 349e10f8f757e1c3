package extract

import (
	"regexp"
	"strings"
)

var (
	titlePattern       = regexp.MustCompile(`(?is)< *title *>(.*?)< */ *title *>`)
	metaCharsetPattern = regexp.MustCompile(`(?i)< *meta http-equiv="Content-Type" [^>]*charset=([^"]*)"`)
	imgPattern         = regexp.MustCompile(`<img src="([^"]+)"`)
	linkPattern        = regexp.MustCompile(`<link [^>]*?href="([^"]+)"[^>]*?type="([^"]+)"`)
)

// Pattern extracts with regular expressions over the raw document text.
//
// The rules are deliberately loose and textual:
//   - title: first <title>...</title>, any case, spaces allowed inside the
//     brackets, may span lines, surrounding whitespace trimmed.
//   - charset: first <meta http-equiv="Content-Type" ... charset=X">, any
//     case. HTML5 <meta charset="X"> is left to Tokenizer.
//   - images: <img src="..."> with src as the first attribute.
//   - links: <link ... href="..." ... type="...">, href before type, both
//     double-quoted.
type Pattern struct{}

func (Pattern) Title(html []byte) string {
	m := titlePattern.FindSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}

func (Pattern) Charset(html []byte) string {
	m := metaCharsetPattern.FindSubmatch(html)
	if m == nil {
		return ""
	}
	return string(m[1])
}

func (Pattern) Images(html []byte) []string {
	matches := imgPattern.FindAllSubmatch(html, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, string(m[1]))
	}
	return dedup(urls)
}

func (Pattern) Links(html []byte) []Link {
	matches := linkPattern.FindAllSubmatch(html, -1)
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, Link{URL: string(m[1]), ContentType: string(m[2])})
	}
	return links
}
