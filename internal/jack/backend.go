// Package jack implements the audio client driver: the connection to the
// real-time audio server, port registration, the processing callback that
// meters input levels, and port graph discovery.
package jack

// AudioPortType is the port type string for mono float audio ports.
const AudioPortType = "32 bit float mono audio"

// PortFlags mirrors the server's port flag bits.
type PortFlags uint64

// Port flag bits.
const (
	PortIsInput    PortFlags = 0x1
	PortIsOutput   PortFlags = 0x2
	PortIsPhysical PortFlags = 0x4
	PortIsTerminal PortFlags = 0x10
)

// ProbeResult is the outcome of a trial connection to the audio server.
type ProbeResult int

const (
	// ProbeUnknown means the trial open failed for a reason other than an
	// unreachable server. Callers treat it as running.
	ProbeUnknown ProbeResult = iota
	// ProbeRunning means the trial open succeeded.
	ProbeRunning
	// ProbeNotRunning means the server could not be reached.
	ProbeNotRunning
)

// OpenInfo reports side effects of opening a client.
type OpenInfo struct {
	ServerStarted bool // the open itself launched the server
}

// Backend opens clients against an audio server.
type Backend interface {
	// Probe attempts a trial open that never starts the server.
	Probe(clientName string) ProbeResult
	// Open opens a client with the given name.
	Open(clientName string) (Client, OpenInfo, error)
}

// Client is an open connection to the audio server.
type Client interface {
	Name() string
	SampleRate() uint32
	BufferSize() uint32

	SetProcessCallback(fn func(nframes uint32) int) error
	SetXRunCallback(fn func() int) error
	OnShutdown(fn func())

	Activate() error
	Deactivate() error
	Close() error

	RegisterPort(name string, flags PortFlags) (Port, error)
	UnregisterPort(p Port) error

	Connect(src, dst string) error
	Disconnect(src, dst string) error

	// Ports lists full port names matching the regular expressions and flags.
	// Empty patterns and zero flags match everything.
	Ports(namePattern, typePattern string, flags PortFlags) []string
	// Connections lists the ports connected to the named port.
	Connections(fullName string) []string
}

// Port is a port registered by this client.
type Port interface {
	// Name returns the full "client:port" name.
	Name() string
	// Buffer returns the port's sample buffer for the current cycle.
	// Only valid inside the process callback.
	Buffer(nframes uint32) []float32
}
