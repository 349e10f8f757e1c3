package filter

import (
	"testing"

	"github.com/dhcgn/mhtml/model"
)

var (
	htmlPart = model.Part{ContentType: `text/html; charset="utf-8"`, Location: "https://example.com/"}
	pngPart  = model.Part{ContentType: "image/png", Location: "https://example.com/img/logo.png"}
	cssPart  = model.Part{ContentType: "text/css", Location: "https://cdn.example.net/site.css"}
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{IncludeType: []string{"^image/"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(pngPart) {
		t.Error("Expected image part to be allowed (type matches)")
	}
	if f.Allows(htmlPart) {
		t.Error("Expected html part to be filtered out (type doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeLocation: []string{`cdn\.example\.net`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(pngPart) {
		t.Error("Expected part to be allowed (location not excluded)")
	}
	if f.Allows(cssPart) {
		t.Error("Expected cdn part to be filtered out")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeType:     []string{"image/"},
		ExcludeLocation: []string{"cdn"},
	})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeType: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{IncludeType: []string{"  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, p := range []model.Part{htmlPart, pngPart, cssPart} {
		if !f.Allows(p) {
			t.Errorf("Expected %s to be allowed when no filters are active", p.Location)
		}
	}

	var nilFilter *Filter
	if !nilFilter.Allows(htmlPart) {
		t.Error("Expected nil filter to allow everything")
	}
}

func TestFilter_LocationOrType(t *testing.T) {
	f, err := New(Options{
		IncludeType:     []string{"text/css"},
		IncludeLocation: []string{`\.png$`},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		part model.Part
		want bool
	}{
		{"type match", cssPart, true},
		{"location match", pngPart, true},
		{"no match", htmlPart, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Allows(tt.part); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_GetStats(t *testing.T) {
	f, err := New(Options{ExcludeType: []string{"^image/", "png"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.Allows(pngPart)
	f.Allows(pngPart)
	f.Allows(htmlPart)

	s := f.GetStats()
	if len(s.ExcludeTypePatterns) != 2 {
		t.Fatalf("ExcludeTypePatterns = %v", s.ExcludeTypePatterns)
	}
	if s.ExcludeTypeHits["^image/"] != 2 || s.ExcludeTypeHits["png"] != 2 {
		t.Errorf("ExcludeTypeHits = %v, want 2 hits each", s.ExcludeTypeHits)
	}
	if len(s.IncludeTypePatterns) != 0 || len(s.IncludeTypeHits) != 0 {
		t.Errorf("unexpected include stats: %+v", s)
	}
}
