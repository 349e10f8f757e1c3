package mhtml

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/dhcgn/mhtml/sniff"
)

func benchPage(images int) ([]byte, *mapFetcher) {
	var page bytes.Buffer
	f := &mapFetcher{bodies: map[string][]byte{}}
	page.WriteString("<html><head><title>Bench</title></head><body>\n")
	for i := 0; i < images; i++ {
		name := fmt.Sprintf("img%d.png", i)
		fmt.Fprintf(&page, "<p>Caf\xc3\xa9 %d</p><img src=\"%s\">\n", i, name)
		f.bodies["http://example.com/"+name] = append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{byte(i)}, 4096)...)
	}
	page.WriteString("</body></html>\n")
	return page.Bytes(), f
}

// BenchmarkEncode measures a page with 32 images.
func BenchmarkEncode(b *testing.B) {
	html, f := benchPage(32)
	enc := NewEncoder(testConfig(), f, sniff.Mime{}, discardLogger())
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.requested = f.requested[:0]
		if _, err := enc.Encode(ctx, html, "http://example.com/"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecode measures decoding of the encoded page.
func BenchmarkDecode(b *testing.B) {
	html, f := benchPage(32)
	enc := NewEncoder(testConfig(), f, sniff.Mime{}, discardLogger())
	res, err := enc.Encode(context.Background(), html, "http://example.com/")
	if err != nil {
		b.Fatal(err)
	}
	dec := NewDecoder(testConfig(), discardLogger())
	b.SetBytes(int64(len(res.Raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Decode(res.Raw); err != nil {
			b.Fatal(err)
		}
	}
}
