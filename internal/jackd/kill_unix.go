//go:build !windows

package jackd

import (
	"context"
	"os/exec"
)

// noProcessExitCode is the pkill exit status when no process matched.
const noProcessExitCode = 1

func killCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "pkill", "-x", "jackd")
}
