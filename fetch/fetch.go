package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dhcgn/mhtml/metrics"
)

var ErrNotFound = errors.New("resource not found")

// Fetcher returns the body stored at an absolute URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// DefaultUserAgent is sent when HTTPOptions.UserAgent is empty.
const DefaultUserAgent = "mhtml/0.1 (+https://github.com/dhcgn/mhtml)"

// HTTPOptions configures an HTTP fetcher.
type HTTPOptions struct {
	UserAgent   string
	BearerToken string
	// TokenHosts receive the bearer token in addition to the origin host
	// set with WithOrigin. Entries are host or host:port.
	TokenHosts []string
	Timeout    time.Duration
	// MaxBytes caps a response body. Zero means no limit.
	MaxBytes int64
}

// HTTP fetches over HTTP(S).
type HTTP struct {
	client *http.Client
	opts   HTTPOptions
	logger *slog.Logger
}

// NewHTTP creates an HTTP fetcher. A nil client uses http.DefaultClient. With
// a bearer token set, requests to the origin host and TokenHosts go through
// an oauth2 transport wrapping the client's transport.
func NewHTTP(client *http.Client, opts HTTPOptions, logger *slog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.BearerToken != "" {
		c := *client
		c.Transport = newScopedTransport(client.Transport, opts.BearerToken, opts.TokenHosts)
		client = &c
	}
	if opts.Timeout > 0 {
		c := *client
		c.Timeout = opts.Timeout
		client = &c
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &HTTP{client: client, opts: opts, logger: logger}
}

func (f *HTTP) Fetch(ctx context.Context, url string) (body []byte, rerr error) {
	start := time.Now()
	var status int
	defer func() {
		result := metrics.FetchObserve(status, rerr, start)
		if f.logger != nil {
			f.logger.Debug("fetch", "url", url, "status", status, "result", result, "duration", time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("get %s: %w", url, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: HTTP %d", url, resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		r = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	body, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if f.opts.MaxBytes > 0 && int64(len(body)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("read %s: body exceeds %d bytes", url, f.opts.MaxBytes)
	}
	return body, nil
}
