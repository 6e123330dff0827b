package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPProber sends GET requests to a health endpoint resolved against each
// backend's base URL and expects 200 OK.
type HTTPProber struct {
	client *http.Client
	urls   map[string]*url.URL
	path   string
}

func NewHTTPProber(urls map[string]*url.URL, path string) *HTTPProber {
	if path == "" {
		path = "/health"
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: defaultProbeTimeout,
		},
		urls: urls,
		path: path,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, backend string) error {
	base, ok := p.urls[backend]
	if !ok {
		return fmt.Errorf("unknown backend %s", backend)
	}

	healthURL := base.ResolveReference(&url.URL{Path: p.path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request to %s: %w", backend, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<10))

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint of %s returned %d", backend, res.StatusCode)
	}
	return nil
}

// SetTimeout overrides the per-request client timeout.
func (p *HTTPProber) SetTimeout(d time.Duration) {
	if d > 0 {
		p.client.Timeout = d
	}
}
