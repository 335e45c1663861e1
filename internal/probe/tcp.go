package probe

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

// TCPProber measures the time to complete a TCP handshake
type TCPProber struct {
	logger      *zap.Logger
	dialer      net.Dialer
	defaultPort string
}

// NewTCPProber creates a new TCP prober dialing port 443 when the endpoint has none
func NewTCPProber(logger *zap.Logger) *TCPProber {
	return &TCPProber{
		logger:      logger,
		defaultPort: "443",
	}
}

// Probe opens and immediately closes one TCP connection
func (p *TCPProber) Probe(ctx context.Context, endpoint string) timeseries.Outcome {
	host, port := hostPort(endpoint, p.defaultPort)

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		p.logger.Debug("TCP probe failed", zap.String("endpoint", endpoint), zap.Error(err))
		return timeseries.Failure()
	}
	outcome := elapsed(start)
	conn.Close()

	return outcome
}
