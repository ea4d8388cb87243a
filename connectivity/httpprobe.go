package connectivity

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPProbe checks reachability by issuing a HEAD request against a health
// endpoint. Any response, including an error status, proves the network path;
// only transport failures count as offline.
type HTTPProbe struct {
	// URL is the health endpoint, e.g. "https://api.example.com/healthz".
	URL string

	// Client, when set, replaces http.DefaultClient. The Monitor's probe
	// timeout applies through the request context either way.
	Client *http.Client
}

// NewHTTPProbe creates a probe against url.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url}
}

// Ping implements Probe.
func (p *HTTPProbe) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
