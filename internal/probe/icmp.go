package probe

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58

	// used when the context carries no deadline
	defaultICMPTimeout = 5 * time.Second
)

// ICMPProber sends one ICMP echo request over an unprivileged datagram
// socket (net.ipv4.ping_group_range must include the process group on Linux).
type ICMPProber struct {
	logger *zap.Logger
	seq    atomic.Uint32
}

// NewICMPProber creates a new ICMP echo prober
func NewICMPProber(logger *zap.Logger) *ICMPProber {
	return &ICMPProber{logger: logger}
}

// Probe sends one echo request and waits for the matching reply
func (p *ICMPProber) Probe(ctx context.Context, endpoint string) timeseries.Outcome {
	host, _ := hostPort(endpoint, "")

	ip, err := resolve(ctx, host)
	if err != nil {
		p.logger.Debug("ICMP probe could not resolve endpoint", zap.String("endpoint", endpoint), zap.Error(err))
		return timeseries.Failure()
	}

	network, listen, proto := "udp4", "0.0.0.0", protocolICMP
	var echoType icmp.Type = ipv4.ICMPTypeEcho
	var replyType icmp.Type = ipv4.ICMPTypeEchoReply
	if ip.To4() == nil {
		network, listen, proto = "udp6", "::", protocolIPv6ICMP
		echoType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	}

	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		p.logger.Debug("ICMP probe could not open socket", zap.String("endpoint", endpoint), zap.Error(err))
		return timeseries.Failure()
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultICMPTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return timeseries.Failure()
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	seq := int(p.seq.Add(1) & 0xffff)
	payload := []byte("pingplot-" + time.Now().Format(time.RFC3339Nano))
	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: payload,
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return timeseries.Failure()
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, &net.UDPAddr{IP: ip}); err != nil {
		p.logger.Debug("ICMP probe write failed", zap.String("endpoint", endpoint), zap.Error(err))
		return timeseries.Failure()
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			p.logger.Debug("ICMP probe timed out", zap.String("endpoint", endpoint), zap.Error(err))
			return timeseries.Failure()
		}
		reply, err := icmp.ParseMessage(proto, rb[:n])
		if err != nil || reply.Type != replyType {
			continue
		}
		// The kernel rewrites the echo ID on datagram sockets, so match on
		// sequence and payload instead.
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq || !bytes.Equal(echo.Data, payload) {
			continue
		}
		return elapsed(start)
	}
}

func resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	return addrs[0].IP, nil
}
