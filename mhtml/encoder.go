package mhtml

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mhtml/fetch"
	"github.com/dhcgn/mhtml/header"
	"github.com/dhcgn/mhtml/metrics"
	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/sniff"
	"github.com/dhcgn/mhtml/transfer"
)

// BoundaryPrefix starts every generated boundary.
const BoundaryPrefix = "----=_NextPart_"

const maxBoundaryAttempts = 8

// Boundary returns the boundary for a capture taken at t.
func Boundary(t time.Time) string {
	return BoundaryPrefix + t.Format("20060102_150405")
}

// Skipped is a subresource left out after its fetch failed.
type Skipped struct {
	URL string
	Err error
}

// Result is a finished encode.
type Result struct {
	Envelope model.Envelope
	Document model.Document
	Skipped  []Skipped
	// Raw is the complete MHTML message.
	Raw []byte
}

// Encoder turns an HTML page into an MHTML message.
type Encoder struct {
	cfg     Config
	fetcher fetch.Fetcher
	sniffer sniff.Sniffer
	logger  *slog.Logger
}

// NewEncoder creates an encoder. A nil sniffer uses sniff.Mime.
func NewEncoder(cfg Config, f fetch.Fetcher, s sniff.Sniffer, logger *slog.Logger) *Encoder {
	if s == nil {
		s = sniff.Mime{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		cfg:     cfg.withDefaults(),
		fetcher: f,
		sniffer: s,
		logger:  logger,
	}
}

// EncodeURL fetches the page at pageURL and encodes it. A failing page fetch
// is fatal.
func (e *Encoder) EncodeURL(ctx context.Context, pageURL string) (*Result, error) {
	ctx = fetch.WithOrigin(ctx, pageURL)
	body, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, pageURL, err)
	}
	return e.Encode(ctx, body, pageURL)
}

// Encode builds the message for html, resolving subresource references
// against baseURL. On error no output is produced.
func (e *Encoder) Encode(ctx context.Context, html []byte, baseURL string) (*Result, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if fetch.Origin(ctx) == "" {
		ctx = fetch.WithOrigin(ctx, baseURL)
	}

	x := e.cfg.Extractor
	res := &Result{
		Envelope: model.Envelope{
			Subject: x.Title(html),
			Charset: x.Charset(html),
			Date:    e.cfg.Now(),
		},
	}
	charset := res.Envelope.Charset
	if charset == "" {
		charset = e.cfg.DefaultCharset
	}
	res.Document.HTML = model.Part{
		ContentType:      fmt.Sprintf("text/html; charset=%q", charset),
		TransferEncoding: model.QuotedPrintable,
		Location:         baseURL,
		Body:             html,
	}

	for _, ref := range x.Images(html) {
		loc, body, ok, err := e.fetch(ctx, base, ref, res)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ct, err := e.cfg.Policy.ImageType(e.sniffer.Sniff(body))
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", loc, err)
		}
		res.Document.Resources = append(res.Document.Resources, model.Part{
			ContentType:      ct,
			TransferEncoding: model.Base64,
			Location:         loc,
			Body:             body,
		})
	}

	for _, link := range x.Links(html) {
		action, classErr := e.cfg.Policy.Classify(link.ContentType)
		if classErr == nil && action == ActionIgnore {
			e.logger.Debug("ignoring link", "url", link.URL, "type", link.ContentType)
			continue
		}
		loc, body, ok, err := e.fetch(ctx, base, link.URL, res)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if classErr != nil {
			return nil, fmt.Errorf("link %s: %w", loc, classErr)
		}
		enc := model.Base64
		if action == ActionQuotedPrintable {
			enc = model.QuotedPrintable
		}
		res.Document.Resources = append(res.Document.Resources, model.Part{
			ContentType:      link.ContentType,
			TransferEncoding: enc,
			Location:         loc,
			Body:             body,
		})
	}

	blocks, err := encodeParts(res.Document.Parts())
	if err != nil {
		return nil, err
	}
	boundary, err := chooseBoundary(Boundary(res.Envelope.Date), blocks)
	if err != nil {
		return nil, err
	}
	res.Envelope.Boundary = boundary

	var buf bytes.Buffer
	buf.WriteString(header.BuildEnvelope(header.QEncode(res.Envelope.Subject, charset), res.Envelope.Date, boundary))
	for _, block := range blocks {
		buf.WriteString("\n--")
		buf.WriteString(boundary)
		buf.WriteString("\n")
		buf.WriteString(block)
	}
	buf.WriteString("\n--")
	buf.WriteString(boundary)
	buf.WriteString("--\n")
	res.Raw = buf.Bytes()

	for _, p := range res.Document.Parts() {
		metrics.Part("encode", string(p.TransferEncoding))
	}
	e.logger.Debug("encoded document", "url", baseURL, "parts", len(blocks), "skipped", len(res.Skipped), "bytes", len(res.Raw))
	return res, nil
}

// fetch resolves ref and retrieves it. A failed fetch is recorded in res and
// reported with ok false; only a done context is returned as an error.
func (e *Encoder) fetch(ctx context.Context, base *url.URL, ref string, res *Result) (loc string, body []byte, ok bool, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		e.skip(res, ref, err)
		return ref, nil, false, nil
	}
	loc = base.ResolveReference(u).String()
	body, err = e.fetcher.Fetch(ctx, loc)
	if err != nil {
		if ctx.Err() != nil {
			return loc, nil, false, ctx.Err()
		}
		e.skip(res, loc, err)
		return loc, nil, false, nil
	}
	return loc, body, true, nil
}

func (e *Encoder) skip(res *Result, loc string, err error) {
	err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
	e.logger.Warn("skipping resource", "url", loc, "err", err)
	res.Skipped = append(res.Skipped, Skipped{URL: loc, Err: err})
}

// encodeParts renders every part as header block plus encoded body.
func encodeParts(parts []model.Part) ([]string, error) {
	blocks := make([]string, len(parts))
	for i, p := range parts {
		body, err := transfer.Encode(p.TransferEncoding, p.Body)
		if err != nil {
			return nil, fmt.Errorf("part %s: %w", p.Location, err)
		}
		blocks[i] = header.BuildPart(p.TransferEncoding, p.ContentType, p.Location) + body
	}
	return blocks, nil
}

// chooseBoundary returns boundary, or a uuid-suffixed variant of it, that
// occurs in none of the blocks.
func chooseBoundary(boundary string, blocks []string) (string, error) {
	candidate := boundary
	for attempt := 0; attempt < maxBoundaryAttempts; attempt++ {
		if !collides(candidate, blocks) {
			return candidate, nil
		}
		candidate = boundary + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return "", ErrBoundaryCollision
}

func collides(boundary string, blocks []string) bool {
	for _, b := range blocks {
		if strings.Contains(b, boundary) {
			return true
		}
	}
	return false
}
