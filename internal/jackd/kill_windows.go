//go:build windows

package jackd

import (
	"context"
	"os/exec"
)

// noProcessExitCode is the taskkill exit status when no process matched.
const noProcessExitCode = 128

func killCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "taskkill", "/f", "/im", "jackd.exe")
}
