package sniff

import "testing"

func TestMime(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"), "image/png"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00"), "image/gif"},
		{"jpeg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "image/jpeg"},
		{"unknown", []byte{0x00, 0x13, 0x37, 0x42}, "application/octet-stream"},
	}
	var s Mime
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnifferFunc(t *testing.T) {
	s := SnifferFunc(func([]byte) string { return "PNG image data" })
	if got := s.Sniff(nil); got != "PNG image data" {
		t.Errorf("Sniff() = %q", got)
	}
}
