package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dhcgn/mhtml/filter"
	"github.com/dhcgn/mhtml/model"
)

func TestPartName(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"http://example.com/", "index.html"},
		{"http://example.com", "index.html"},
		{"http://example.com/dir/", "index.html"},
		{"http://example.com/a.png", "a.png"},
		{"http://example.com/img/logo.png?v=2", "logo.png"},
		{"http://example.com/../..", "index.html"},
		{"", "index.html"},
		{"style.css", "style.css"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			if got := PartName(tt.location); got != tt.want {
				t.Errorf("PartName(%q) = %q, want %q", tt.location, got, tt.want)
			}
		})
	}
}

func TestCaptureName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/", "example.com.mht"},
		{"https://example.com/blog/post-1?x=y", "example.com_blog_post-1.mht"},
		{"https://example.com:8443/a b", "example.com_8443_a_b.mht"},
		{"???", "capture.mht"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := CaptureName(tt.url); got != tt.want {
				t.Errorf("CaptureName(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestWriteParts(t *testing.T) {
	dir := t.TempDir()
	parts := []model.Part{
		{ContentType: "text/html", Location: "http://example.com/", Body: []byte("<p>hi</p>")},
		{ContentType: "image/png", Location: "http://example.com/a/logo.png", Body: []byte("one")},
		{ContentType: "image/png", Location: "http://example.com/b/logo.png", Body: []byte("two")},
		{ContentType: "text/css", Location: "http://example.com/s.css", Body: []byte("p{}")},
	}
	f, err := filter.New(filter.Options{ExcludeType: []string{"^text/css$"}})
	if err != nil {
		t.Fatal(err)
	}

	written, err := WriteParts(dir, parts, f)
	if err != nil {
		t.Fatalf("WriteParts() error = %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("wrote %d files, want 3: %v", len(written), written)
	}

	want := map[string]string{
		"index.html": "<p>hi</p>",
		"logo.png":   "one",
		"logo_2.png": "two",
	}
	for name, body := range want {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if string(got) != body {
			t.Errorf("%s = %q, want %q", name, got, body)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "s.css")); !os.IsNotExist(err) {
		t.Errorf("filtered part s.css was written")
	}
}

func TestDir_Deliver(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDir(dir, nil)
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}
	c := model.Capture{URL: "https://example.com/page", Raw: []byte("From: <saved by mhtml>\n")}
	if err := sink.Deliver(context.Background(), c); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "example.com_page.mht"))
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if string(got) != string(c.Raw) {
		t.Errorf("capture = %q, want %q", got, c.Raw)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the capture", len(entries))
	}
}
