package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

type originKey struct{}

// WithOrigin marks fetches made with ctx as belonging to the page at
// pageURL. The bearer token is sent to the page's host only.
func WithOrigin(ctx context.Context, pageURL string) context.Context {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, strings.ToLower(u.Host))
}

// Origin returns the page host recorded by WithOrigin.
func Origin(ctx context.Context) string {
	host, _ := ctx.Value(originKey{}).(string)
	return host
}

// scopedTransport routes requests to the origin host, or to one of the
// configured hosts, through the token transport. Every other request goes
// out without credentials, redirects included.
type scopedTransport struct {
	auth  http.RoundTripper
	plain http.RoundTripper
	hosts map[string]bool
}

func newScopedTransport(base http.RoundTripper, token string, hosts []string) *scopedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = true
		}
	}
	return &scopedTransport{
		auth: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		},
		plain: base,
		hosts: allowed,
	}
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.allows(req) {
		return t.auth.RoundTrip(req)
	}
	return t.plain.RoundTrip(req)
}

func (t *scopedTransport) allows(req *http.Request) bool {
	host := strings.ToLower(req.URL.Host)
	if t.hosts[host] || t.hosts[strings.ToLower(req.URL.Hostname())] {
		return true
	}
	origin := Origin(req.Context())
	return origin != "" && origin == host
}
