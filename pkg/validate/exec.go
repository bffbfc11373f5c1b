package validate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/canopyproj/canopy/pkg/types"
)

// ExecProber probes validation targets by running a command and checking
// its exit status. This covers the kubectl/cloud-CLI style of readiness
// check where no stable endpoint exists.
type ExecProber struct {
	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration
}

// NewExecProber creates an exec prober
func NewExecProber() *ExecProber {
	return &ExecProber{
		Timeout: 10 * time.Second,
	}
}

// Probe runs target.Command; exit code 0 passes, anything else fails
func (e *ExecProber) Probe(ctx context.Context, target types.ValidationTarget) Result {
	start := time.Now()

	if len(target.Command) == 0 {
		return Result{
			OK:         false,
			Diagnostic: "no command specified",
			CheckedAt:  start,
			Duration:   time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, target.Command[0], target.Command[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	diag := fmt.Sprintf("command: %v", target.Command)
	if err != nil {
		diag = fmt.Sprintf("%s, error: %v", diag, err)
		if stderr.Len() > 0 {
			diag = fmt.Sprintf("%s, stderr: %s", diag, stderr.String())
		}
		return Result{
			OK:         false,
			Diagnostic: diag,
			CheckedAt:  start,
			Duration:   time.Since(start),
		}
	}

	if stdout.Len() > 0 {
		output := stdout.String()
		if len(output) > 100 {
			output = output[:100] + "..."
		}
		diag = fmt.Sprintf("%s, output: %s", diag, output)
	}

	return Result{
		OK:         true,
		Diagnostic: diag,
		CheckedAt:  start,
		Duration:   time.Since(start),
	}
}

// Kind returns the target kind this prober handles
func (e *ExecProber) Kind() types.CheckKind {
	return types.CheckExec
}
