package mbox

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/mhtml/fetch"
	"github.com/dhcgn/mhtml/mhtml"
	"github.com/dhcgn/mhtml/model"
)

func capture(n int) model.Capture {
	raw := "From: <saved by mhtml>\n" +
		"Subject: =?utf-8?Q?Page_" + string(rune('0'+n)) + "?=\n" +
		"MIME-Version: 1.0\n" +
		"Content-Type: multipart/related;\n\tboundary=\"b\";\n\ttype=\"text/html\"\n" +
		"\n--b\n" +
		"Content-Type: text/html; charset=\"utf-8\"\n" +
		"Content-Transfer-Encoding: quoted-printable\n" +
		"Content-Location: https://example.com/\n\n" +
		"<p>page</p>\n" +
		"--b--\n"
	return model.Capture{
		URL:        "https://example.com/",
		CapturedAt: time.Date(2026, 10, 15, 9, 30, n, 0, time.UTC),
		Raw:        []byte(raw),
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.mbox")
	ctx := context.Background()

	w, err := NewWriter(path, nil)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	want := []model.Capture{capture(1), capture(2)}
	for _, c := range want {
		if err := w.Deliver(ctx, c); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Deliver(ctx, capture(3)); err == nil {
		t.Error("Deliver() after Close: want error")
	}

	var got [][]byte
	err = Read(path, func(idx int, raw []byte) error {
		if idx != len(got) {
			t.Errorf("index = %d, want %d", idx, len(got))
		}
		got = append(got, raw)
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if bytes.Contains(got[i], []byte("\r")) {
			t.Errorf("message %d has CR line endings: %q", i, got[i])
		}
		if !bytes.Equal(bytes.TrimRight(got[i], "\n"), bytes.TrimRight(want[i].Raw, "\n")) {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i].Raw)
		}
	}
}

func TestWriterRoundTripDecodes(t *testing.T) {
	html := []byte("<html>\n<title>T</title>\n<p>Caf\xc3\xa9 x</p>\r\n</html>\n")
	f := fetch.FetcherFunc(func(context.Context, string) ([]byte, error) {
		return nil, fetch.ErrNotFound
	})
	cfg := mhtml.DefaultConfig()
	res, err := mhtml.NewEncoder(cfg, f, nil, nil).Encode(context.Background(), html, "https://example.com/")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "captures.mbox")
	w, err := NewWriter(path, nil)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	c := model.Capture{URL: "https://example.com/", CapturedAt: res.Envelope.Date, Raw: res.Raw}
	if err := w.Deliver(context.Background(), c); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dec := mhtml.NewDecoder(cfg, nil)
	var decoded int
	err = Read(path, func(_ int, raw []byte) error {
		file, err := dec.Decode(raw)
		if err != nil {
			return err
		}
		decoded++
		if len(file.Parts) != 1 {
			t.Fatalf("decoded %d parts, want 1", len(file.Parts))
		}
		if !bytes.Equal(file.Parts[0].Body, html) {
			t.Errorf("HTML body = %q, want %q", file.Parts[0].Body, html)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if decoded != 1 {
		t.Errorf("decoded %d messages, want 1", decoded)
	}
}

func TestReadFromStops(t *testing.T) {
	archive := "From a@b Thu Oct 15 09:30:00 2026\nSubject: one\n\nbody\n\n" +
		"From a@b Thu Oct 15 09:31:00 2026\nSubject: two\n\nbody\n\n"
	stop := errors.New("stop")

	calls := 0
	err := ReadFrom(strings.NewReader(archive), func(int, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("ReadFrom() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}

func TestNewWriter_EmptyPath(t *testing.T) {
	if _, err := NewWriter(" ", nil); err == nil {
		t.Error("NewWriter() with empty path: want error")
	}
}
