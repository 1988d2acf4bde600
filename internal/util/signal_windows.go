//go:build windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// On Windows, this is a no-op; child processes are asked to quit via stdin instead.
func GracefulSignal(p *os.Process) error {
	return nil
}

// DetachedProcAttr returns process attributes that start a child in a new
// process group, so console interrupts sent to the daemon do not reach it.
func DetachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
