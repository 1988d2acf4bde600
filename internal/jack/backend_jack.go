//go:build jack

package jack

import (
	"fmt"
	"unsafe"

	gojack "github.com/xthexder/go-jack"
)

type serverBackend struct{}

// NewBackend returns the backend bound to the system audio server library.
func NewBackend() Backend {
	return serverBackend{}
}

func (serverBackend) Probe(clientName string) ProbeResult {
	c, status := gojack.ClientOpen(clientName+"_probe", gojack.NoStartServer)
	if c != nil {
		c.Close()
		return ProbeRunning
	}
	if status&gojack.ServerFailed != 0 {
		return ProbeNotRunning
	}
	return ProbeUnknown
}

func (serverBackend) Open(clientName string) (Client, OpenInfo, error) {
	c, status := gojack.ClientOpen(clientName, gojack.NullOption)
	if c == nil {
		return nil, OpenInfo{}, fmt.Errorf("client open failed (status 0x%x)", int(status))
	}
	return &serverClient{c: c}, OpenInfo{ServerStarted: status&gojack.ServerStarted != 0}, nil
}

type serverClient struct {
	c *gojack.Client
}

func codeErr(op string, code int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", op, gojack.StrError(code))
}

func (s *serverClient) Name() string       { return s.c.GetName() }
func (s *serverClient) SampleRate() uint32 { return s.c.GetSampleRate() }
func (s *serverClient) BufferSize() uint32 { return s.c.GetBufferSize() }

func (s *serverClient) SetProcessCallback(fn func(uint32) int) error {
	return codeErr("set process callback", s.c.SetProcessCallback(fn))
}

func (s *serverClient) SetXRunCallback(fn func() int) error {
	return codeErr("set xrun callback", s.c.SetXRunCallback(fn))
}

func (s *serverClient) OnShutdown(fn func()) { s.c.OnShutdown(fn) }

func (s *serverClient) Activate() error   { return codeErr("activate", s.c.Activate()) }
func (s *serverClient) Deactivate() error { return codeErr("deactivate", s.c.Deactivate()) }
func (s *serverClient) Close() error      { return codeErr("close", s.c.Close()) }

func (s *serverClient) RegisterPort(name string, flags PortFlags) (Port, error) {
	p := s.c.PortRegister(name, gojack.DEFAULT_AUDIO_TYPE, uint64(flags), 0)
	if p == nil {
		return nil, fmt.Errorf("register port %s failed", name)
	}
	return serverPort{p: p}, nil
}

func (s *serverClient) UnregisterPort(p Port) error {
	sp, ok := p.(serverPort)
	if !ok {
		return fmt.Errorf("port %s not owned by this client", p.Name())
	}
	return codeErr("unregister port", s.c.PortUnregister(sp.p))
}

func (s *serverClient) Connect(src, dst string) error {
	return codeErr("connect", s.c.Connect(src, dst))
}

func (s *serverClient) Disconnect(src, dst string) error {
	return codeErr("disconnect", s.c.Disconnect(src, dst))
}

func (s *serverClient) Ports(namePattern, typePattern string, flags PortFlags) []string {
	return s.c.GetPorts(namePattern, typePattern, uint64(flags))
}

func (s *serverClient) Connections(fullName string) []string {
	p := s.c.GetPortByName(fullName)
	if p == nil {
		return nil
	}
	return p.GetConnections()
}

type serverPort struct {
	p *gojack.Port
}

func (p serverPort) Name() string { return p.p.GetName() }

func (p serverPort) Buffer(nframes uint32) []float32 {
	samples := p.p.GetBuffer(nframes)
	if len(samples) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(samples))), len(samples))
}
