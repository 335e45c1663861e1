// Package probe measures round-trip latency to a single endpoint.
//
// A Prober never reports ordinary network trouble as an error: timeouts,
// refused connections, DNS failures and unexpected replies all collapse to
// timeseries.Failure(). Each call issues exactly one request and is bounded
// by the context deadline.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

// Method names accepted by New
const (
	MethodHTTP = "http"
	MethodTCP  = "tcp"
	MethodICMP = "icmp"
)

// Prober performs one latency measurement against an endpoint
type Prober interface {
	Probe(ctx context.Context, endpoint string) timeseries.Outcome
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, endpoint string) timeseries.Outcome

// Probe calls f(ctx, endpoint)
func (f ProberFunc) Probe(ctx context.Context, endpoint string) timeseries.Outcome {
	return f(ctx, endpoint)
}

// New returns the prober for the given method
func New(method string, logger *zap.Logger) (Prober, error) {
	switch strings.ToLower(method) {
	case "", MethodHTTP:
		return NewHTTPProber(logger), nil
	case MethodTCP:
		return NewTCPProber(logger), nil
	case MethodICMP:
		return NewICMPProber(logger), nil
	default:
		return nil, fmt.Errorf("unknown probe method %q", method)
	}
}

// Methods returns the supported probe methods
func Methods() []string {
	return []string{MethodHTTP, MethodTCP, MethodICMP}
}

// elapsed returns a success outcome for the time since start
func elapsed(start time.Time) timeseries.Outcome {
	return timeseries.Success(time.Since(start))
}

// hostPort splits an endpoint into host and port, stripping any URL scheme
// and path and falling back to defaultPort.
func hostPort(endpoint, defaultPort string) (string, string) {
	host := endpoint
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		return h, p
	}
	return strings.Trim(host, "[]"), defaultPort
}
