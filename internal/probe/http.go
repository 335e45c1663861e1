package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/timeseries"
	"github.com/aaronlmathis/pingplot/internal/version"
)

// maxRedirects caps the redirect chain a single probe will follow
const maxRedirects = 10

// HTTPProber measures the time to receive response headers for a GET request,
// following redirects. Only a final 200 response counts as a success.
type HTTPProber struct {
	logger *zap.Logger
	client *http.Client
}

// NewHTTPProber creates a new HTTP prober
func NewHTTPProber(logger *zap.Logger) *HTTPProber {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Every probe pays for its own connection so that latency is comparable
	// between rounds.
	transport.DisableKeepAlives = true

	return &HTTPProber{
		logger: logger,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Probe issues one GET request against the endpoint
func (p *HTTPProber) Probe(ctx context.Context, endpoint string) timeseries.Outcome {
	url := endpoint
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Debug("Invalid probe request", zap.String("endpoint", endpoint), zap.Error(err))
		return timeseries.Failure()
	}
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("HTTP probe failed", zap.String("endpoint", endpoint), zap.Error(err))
		return timeseries.Failure()
	}
	outcome := elapsed(start)

	// Drain a little of the body so the server sees a clean close
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Debug("HTTP probe returned non-200 status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return timeseries.Failure()
	}

	return outcome
}
