package jack

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServerNotRunning is returned when the audio server cannot be reached.
	ErrServerNotRunning = errors.New("audio server not running")
	// ErrConnectFailed is returned when the server rejects the client open or activation.
	ErrConnectFailed = errors.New("audio client connect failed")
	// ErrNotConnected is returned by operations that need an open client.
	ErrNotConnected = errors.New("audio client not connected")
	// ErrBackendUnavailable is returned when the binary was built without audio server support.
	ErrBackendUnavailable = errors.New("audio server support not compiled in (build with -tags jack)")
)

// PortRegistrationError lists ports that failed to register. Ports not listed
// were registered and remain usable.
type PortRegistrationError struct {
	Failed []string
}

func (e *PortRegistrationError) Error() string {
	return fmt.Sprintf("failed to register %d port(s): %s", len(e.Failed), strings.Join(e.Failed, ", "))
}
