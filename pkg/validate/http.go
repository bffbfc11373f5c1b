package validate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/canopyproj/canopy/pkg/types"
)

// HTTPProber probes HTTP validation targets
type HTTPProber struct {
	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 399)
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPProber creates an HTTP prober with default status expectations
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Probe performs the HTTP check against target.URL
func (h *HTTPProber) Probe(ctx context.Context, target types.ValidationTarget) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return Result{
			OK:         false,
			Diagnostic: fmt.Sprintf("failed to create request: %v", err),
			CheckedAt:  start,
			Duration:   time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			OK:         false,
			Diagnostic: fmt.Sprintf("request failed: %v", err),
			CheckedAt:  start,
			Duration:   time.Since(start),
		}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax

	diag := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !ok {
		diag = fmt.Sprintf("%s (expected %d-%d)", diag, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	return Result{
		OK:         ok,
		Diagnostic: diag,
		CheckedAt:  start,
		Duration:   time.Since(start),
	}
}

// Kind returns the target kind this prober handles
func (h *HTTPProber) Kind() types.CheckKind {
	return types.CheckHTTP
}

// WithStatusRange sets the expected status code range
func (h *HTTPProber) WithStatusRange(min, max int) *HTTPProber {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}
