// Package scripts runs the lifecycle hook commands configured in the
// [custom] section. Hook failures are logged and aggregated but never
// propagate beyond the caller; a broken script must not take the daemon down.
package scripts

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/mjs/warden/internal/log"
)

// DefaultTimeout bounds a single hook script. A hung script would otherwise
// stall the engine loop that runs it.
const DefaultTimeout = 10 * time.Second

// Runner executes a batch of hook commands.
type Runner interface {
	Run(ctx context.Context, commands []string) error
}

var _ Runner = (*ShellRunner)(nil)

// ShellRunner executes each command sequentially through /bin/sh -c.
type ShellRunner struct {
	Timeout time.Duration
}

// NewShellRunner returns a runner with the default per-script timeout.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Timeout: DefaultTimeout}
}

// Run executes the commands in order. Every command is attempted even when
// an earlier one fails; the failures come back aggregated.
func (r *ShellRunner) Run(ctx context.Context, commands []string) error {
	var errs error
	for _, command := range commands {
		if err := r.runOne(ctx, command); err != nil {
			log.Errorf("scripts: %q failed: %v", command, err)
			errs = multierr.Append(errs, fmt.Errorf("%q: %w", command, err))
			continue
		}
		log.Debugf("scripts: %q completed", command)
	}
	return errs
}

func (r *ShellRunner) runOne(ctx context.Context, command string) error {
	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	// The shell gets its own process group and the timeout signals the
	// whole group: killing only the shell leaves its children running,
	// still holding the output pipe open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// Wait must not drain pipes forever if something inherited one and
	// survived the group kill.
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}
