//go:build !jack

package jack

type stubBackend struct{}

// NewBackend returns a backend that always reports the audio server as
// unreachable. Build with -tags jack for the real binding.
func NewBackend() Backend {
	return stubBackend{}
}

func (stubBackend) Probe(string) ProbeResult {
	return ProbeNotRunning
}

func (stubBackend) Open(string) (Client, OpenInfo, error) {
	return nil, OpenInfo{}, ErrBackendUnavailable
}
