package extract

import (
	"reflect"
	"strings"
	"testing"
)

const page = `<html><head><TITLE>Caf` + "é" + `</TITLE>
<meta http-equiv="Content-Type" content="text/html; charset=iso-8859-1">
<link rel="stylesheet" href="s.css" type="text/css">
<link rel="alternate" href="feed.xml" type="application/rss+xml">
<link rel="icon" href="favicon.ico">
<link type="text/javascript" rel="preload" href="late.js">
</head><body>
<img src="a.png"><img src="a.png"><img src="b.gif">
<img alt="logo" src="c.png">
</body></html>`

func TestNew(t *testing.T) {
	for _, name := range []string{"", NamePattern, NameTokenizer} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q) error = %v", name, err)
		}
	}
	if _, err := New("dom"); err == nil {
		t.Error("New(dom) expected error")
	}
}

func TestPattern(t *testing.T) {
	var e Pattern
	doc := []byte(page)

	if got := e.Title(doc); got != "Café" {
		t.Errorf("Title() = %q, want %q", got, "Café")
	}
	if got := e.Charset(doc); got != "iso-8859-1" {
		t.Errorf("Charset() = %q, want iso-8859-1", got)
	}
	if got, want := e.Images(doc), []string{"a.png", "b.gif"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Images() = %v, want %v", got, want)
	}
	wantLinks := []Link{
		{URL: "s.css", ContentType: "text/css"},
		{URL: "feed.xml", ContentType: "application/rss+xml"},
	}
	if got := e.Links(doc); !reflect.DeepEqual(got, wantLinks) {
		t.Errorf("Links() = %v, want %v", got, wantLinks)
	}
}

func TestTokenizer(t *testing.T) {
	var e Tokenizer
	doc := []byte(page)

	if got := e.Title(doc); got != "Café" {
		t.Errorf("Title() = %q, want %q", got, "Café")
	}
	if got := e.Charset(doc); got != "windows-1252" {
		t.Errorf("Charset() = %q, want windows-1252", got)
	}
	if got, want := e.Images(doc), []string{"a.png", "b.gif", "c.png"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Images() = %v, want %v", got, want)
	}
	wantLinks := []Link{
		{URL: "s.css", ContentType: "text/css"},
		{URL: "feed.xml", ContentType: "application/rss+xml"},
		{URL: "late.js", ContentType: "text/javascript"},
	}
	if got := e.Links(doc); !reflect.DeepEqual(got, wantLinks) {
		t.Errorf("Links() = %v, want %v", got, wantLinks)
	}
}

func TestExtractorsEdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantTitle   string
		wantCharset string
		wantImages  int
	}{
		{"empty", "", "", "", 0},
		{"no head", "<p>hello</p>", "", "", 0},
		{"html5 charset", `<meta charset="utf-8"><title>T</title>`, "T", "", 0},
		{"spaced title tags", "< title >Spaced</ title >", "Spaced", "", 0},
		{"duplicate images", `<img src="i.png"><img src="i.png">`, "", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Pattern
			doc := []byte(tt.doc)
			if got := e.Title(doc); got != tt.wantTitle {
				t.Errorf("Title() = %q, want %q", got, tt.wantTitle)
			}
			if got := e.Charset(doc); got != tt.wantCharset {
				t.Errorf("Charset() = %q, want %q", got, tt.wantCharset)
			}
			if got := e.Images(doc); len(got) != tt.wantImages {
				t.Errorf("Images() = %v, want %d entries", got, tt.wantImages)
			}
		})
	}
}

func TestTokenizerHTML5Charset(t *testing.T) {
	var e Tokenizer
	if got := e.Charset([]byte(`<meta charset="utf-8"><title>T</title>`)); !strings.EqualFold(got, "utf-8") {
		t.Errorf("Charset() = %q, want utf-8", got)
	}
}

func TestTokenizerUnescapes(t *testing.T) {
	var e Tokenizer
	doc := []byte(`<title>A &amp; B</title><img src="x.png?a=1&amp;b=2">`)
	if got := e.Title(doc); got != "A & B" {
		t.Errorf("Title() = %q, want %q", got, "A & B")
	}
	if got, want := e.Images(doc), []string{"x.png?a=1&b=2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Images() = %v, want %v", got, want)
	}
	if got := e.Charset(doc); got != "" {
		t.Errorf("Charset() = %q, want empty", got)
	}
}
