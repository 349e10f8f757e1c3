package transfer

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/dhcgn/mhtml/model"
)

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 4096)
	rng.Read(random)

	inputs := map[string][]byte{
		"empty":           {},
		"all bytes":       allBytes(),
		"text":            []byte("<html>\n<body>Hello, world</body>\n</html>\n"),
		"crlf":            []byte("line one\r\nline two\r\n"),
		"trailing spaces": []byte("spaces   \ntabs\t\t\n"),
		"long line":       []byte(strings.Repeat("0123456789", 40)),
		"equals":          []byte("a=b==c=\n="),
		"random":          random,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			qp, err := DecodeQuotedPrintable(EncodeQuotedPrintable(input))
			if err != nil {
				t.Fatalf("DecodeQuotedPrintable() error = %v", err)
			}
			if !bytes.Equal(qp, input) {
				t.Errorf("quoted-printable round trip = %q, want %q", qp, input)
			}

			b64, err := DecodeBase64(EncodeBase64(input))
			if err != nil {
				t.Fatalf("DecodeBase64() error = %v", err)
			}
			if !bytes.Equal(b64, input) {
				t.Errorf("base64 round trip = %q, want %q", b64, input)
			}
		})
	}
}

func TestEncodeQuotedPrintable(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain text", "plain text"},
		{"a=b\r\nc ", "a=3Db=0D\nc=20"},
		{"caf\xc3\xa9\n", "caf=C3=A9\n"},
		{"\n\n", "\n\n"},
	}
	for _, tt := range tests {
		if got := EncodeQuotedPrintable([]byte(tt.in)); got != tt.want {
			t.Errorf("EncodeQuotedPrintable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeQuotedPrintableSoftBreaks(t *testing.T) {
	out := EncodeQuotedPrintable([]byte(strings.Repeat("x", 200)))
	if strings.Contains(out, "\r") {
		t.Errorf("soft line breaks should use \\n, got %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) > LineLength {
			t.Errorf("line length = %d, want <= %d", len(line), LineLength)
		}
	}
}

func TestEncodeBase64LineWrap(t *testing.T) {
	for _, size := range []int{0, 1, 56, 57, 58, 114, 1000, 4096} {
		data := bytes.Repeat([]byte{0xAB}, size)
		out := EncodeBase64(data)
		if strings.HasSuffix(out, "\n") {
			t.Errorf("size %d: output ends with newline", size)
		}
		lines := strings.Split(out, "\n")
		for i, line := range lines[:len(lines)-1] {
			if len(line) != LineLength {
				t.Errorf("size %d: line %d has length %d, want %d", size, i, len(line), LineLength)
			}
		}
		if last := lines[len(lines)-1]; len(last) > LineLength {
			t.Errorf("size %d: last line has length %d", size, len(last))
		}
	}
}

func TestDecodeBase64CRLF(t *testing.T) {
	data := bytes.Repeat([]byte("mhtml"), 40)
	text := strings.ReplaceAll(EncodeBase64(data), "\n", "\r\n")
	got, err := DecodeBase64(text)
	if err != nil {
		t.Fatalf("DecodeBase64() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("DecodeBase64() = %q, want %q", got, data)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := DecodeBase64("not*base64!"); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeBase64() error = %v, want ErrMalformed", err)
	}
	if _, err := DecodeBase64("QUJD\nRA"); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeBase64() truncated error = %v, want ErrMalformed", err)
	}
	if _, err := DecodeQuotedPrintable("bad\x01body"); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeQuotedPrintable() error = %v, want ErrMalformed", err)
	}
}

func TestDecodeQuotedPrintableEscapes(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "hex escape", text: "Caf=C3=A9", want: "Caf\xc3\xa9"},
		{name: "lowercase hex", text: "a=3db", want: "a=b"},
		{name: "soft break", text: "abc=\ndef", want: "abcdef"},
		{name: "soft break crlf", text: "abc=\r\ndef", want: "abcdef"},
		{name: "soft break trailing space", text: "abc= \t\ndef", want: "abcdef"},
		{name: "invalid hex", text: "abc=ZZdef", wantErr: true},
		{name: "short escape", text: "abc=4", wantErr: true},
		{name: "trailing equals", text: "abc=", wantErr: true},
		{name: "equals before space", text: "a= b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeQuotedPrintable(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("DecodeQuotedPrintable(%q) error = %v, want ErrMalformed", tt.text, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeQuotedPrintable(%q) error = %v", tt.text, err)
			}
			if string(got) != tt.want {
				t.Errorf("DecodeQuotedPrintable(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeDispatch(t *testing.T) {
	data := []byte("dispatch")
	for _, enc := range []model.TransferEncoding{model.QuotedPrintable, model.Base64} {
		text, err := Encode(enc, data)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", enc, err)
		}
		got, err := Decode(enc, text)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", enc, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("%s round trip = %q, want %q", enc, got, data)
		}
	}

	if _, err := Encode("7bit", data); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("Encode(7bit) error = %v, want ErrUnsupportedEncoding", err)
	}
	if _, err := Decode("binary", "x"); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("Decode(binary) error = %v, want ErrUnsupportedEncoding", err)
	}
}
