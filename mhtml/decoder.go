package mhtml

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/mhtml/header"
	"github.com/dhcgn/mhtml/metrics"
	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/transfer"
)

// Decoder splits an MHTML message into its parts.
type Decoder struct {
	cfg    Config
	logger *slog.Logger
}

func NewDecoder(cfg Config, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{cfg: cfg.withDefaults(), logger: logger}
}

// Decode parses raw. Segments without a Content-Transfer-Encoding, like the
// envelope and any preamble, yield no part. A segment whose body does not
// decode is recorded in File.Errors and skipped, unless the decoder is
// strict.
func (d *Decoder) Decode(raw []byte) (*model.File, error) {
	text := string(raw)
	boundary, ok := header.FindBoundary(text)
	if !ok {
		return nil, ErrNoBoundaryFound
	}

	segments := strings.Split(text, "--"+boundary)
	file := &model.File{}

	env, err := header.ParseEnvelope(segments[0])
	if err != nil {
		d.logger.Debug("envelope not parsed", "err", err)
	}
	env.Boundary = boundary
	file.Envelope = env

	for i, seg := range segments {
		h := header.ParsePart(seg)
		if !h.IsData() {
			continue
		}
		part, err := decodeSegment(seg, h)
		if err != nil {
			perr := model.PartError{Index: i, Location: h.Location, Err: err}
			if d.cfg.Strict {
				return nil, fmt.Errorf("decode: %w", perr)
			}
			d.logger.Warn("skipping malformed segment", "segment", i, "location", h.Location, "err", err)
			file.Errors = append(file.Errors, perr)
			continue
		}
		metrics.Part("decode", string(part.TransferEncoding))
		file.Parts = append(file.Parts, part)
	}

	d.logger.Debug("decoded document", "parts", len(file.Parts), "errors", len(file.Errors))
	return file, nil
}

func decodeSegment(seg string, h header.PartHeader) (model.Part, error) {
	enc, err := model.ParseTransferEncoding(h.TransferEncoding)
	if err != nil {
		return model.Part{}, fmt.Errorf("%w: %w", transfer.ErrUnsupportedEncoding, err)
	}
	_, body := header.SplitSegment(seg)
	data, err := transfer.Decode(enc, body)
	if err != nil {
		return model.Part{}, err
	}
	return model.Part{
		ContentType:      h.ContentType,
		TransferEncoding: enc,
		Location:         h.Location,
		Body:             data,
	}, nil
}
