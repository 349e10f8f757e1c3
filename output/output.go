package output

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhcgn/mhtml/filter"
	"github.com/dhcgn/mhtml/model"
)

// IndexName is used for parts whose location has no file name.
const IndexName = "index.html"

// PartName returns the file name of a decoded part: the last element of the
// Content-Location path, or IndexName when that is empty.
func PartName(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil {
		p = u.Path
	}
	if strings.HasSuffix(p, "/") {
		return IndexName
	}
	switch name := path.Base(p); name {
	case "", ".", "..", "/":
		return IndexName
	default:
		return name
	}
}

// CaptureName returns the file name of a capture of pageURL, built from its
// host and path.
func CaptureName(pageURL string) string {
	var raw string
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		raw = u.Host + u.Path
	} else {
		raw = pageURL
	}
	var sb strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := strings.Trim(sb.String(), "_.")
	if name == "" {
		name = "capture"
	}
	return name + ".mht"
}

// WriteParts writes every part allowed by f into dir and returns the paths
// written. Colliding names get a numeric suffix before the extension.
func WriteParts(dir string, parts []model.Part, f *filter.Filter) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	used := make(map[string]int)
	var written []string
	for _, p := range parts {
		if !f.Allows(p) {
			continue
		}
		name := uniqueName(PartName(p.Location), used)
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, p.Body, 0o644); err != nil {
			return written, fmt.Errorf("write part %s: %w", p.Location, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	candidate := strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n+1) + ext
	if used[candidate] > 0 {
		return uniqueName(candidate, used)
	}
	used[candidate] = 1
	return candidate
}

// Dir is a sink storing each capture as a .mht file in a directory.
type Dir struct {
	dir    string
	logger *slog.Logger
}

func NewDir(dir string, logger *slog.Logger) (*Dir, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{dir: dir, logger: logger}, nil
}

func (d *Dir) Name() string {
	return "dir"
}

// Deliver writes the capture through a temporary file so readers never see
// a partial message.
func (d *Dir) Deliver(_ context.Context, c model.Capture) error {
	target := filepath.Join(d.dir, CaptureName(c.URL))
	tmp, err := os.CreateTemp(d.dir, ".capture-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(c.Raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write capture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close capture: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename capture: %w", err)
	}
	d.logger.Debug("wrote capture", "url", c.URL, "path", target, "bytes", len(c.Raw))
	return nil
}

func (d *Dir) Close() error {
	return nil
}
