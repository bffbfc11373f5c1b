package validate

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/canopyproj/canopy/pkg/types"
)

// TCPProber probes TCP validation targets by opening a connection
type TCPProber struct {
	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPProber creates a TCP prober
func NewTCPProber() *TCPProber {
	return &TCPProber{
		Timeout: 5 * time.Second,
	}
}

// Probe attempts a TCP connection to target.Address
func (t *TCPProber) Probe(ctx context.Context, target types.ValidationTarget) Result {
	start := time.Now()

	dialer := &net.Dialer{
		Timeout: t.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return Result{
			OK:         false,
			Diagnostic: fmt.Sprintf("connection failed: %v", err),
			CheckedAt:  start,
			Duration:   time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		OK:         true,
		Diagnostic: fmt.Sprintf("TCP connection to %s successful", target.Address),
		CheckedAt:  start,
		Duration:   time.Since(start),
	}
}

// Kind returns the target kind this prober handles
func (t *TCPProber) Kind() types.CheckKind {
	return types.CheckTCP
}
