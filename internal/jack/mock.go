package jack

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// MockBackend simulates an audio server and its port graph in memory. It is
// used by tests of this package and of the packages built on the driver.
type MockBackend struct {
	mu sync.Mutex

	running      bool
	ambiguous    bool
	startsOnOpen bool
	openErr      error
	failPorts    map[string]bool

	sampleRate uint32
	bufferSize uint32

	ports   map[string]*mockPort // full name -> port
	order   []string             // registration order of full names
	edges   map[string]map[string]bool
	clients map[string]*MockClient
	opens   int
	unregs  int
}

type mockPort struct {
	owner  *MockClient // nil for external clients
	name   string
	flags  PortFlags
	buffer []float32
}

func (p *mockPort) Name() string { return p.name }

func (p *mockPort) Buffer(nframes uint32) []float32 {
	if int(nframes) < len(p.buffer) {
		return p.buffer[:nframes]
	}
	return p.buffer
}

// NewMockBackend returns a running mock server at 48 kHz with 512-frame blocks.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		running:    true,
		sampleRate: 48000,
		bufferSize: 512,
		failPorts:  make(map[string]bool),
		ports:      make(map[string]*mockPort),
		edges:      make(map[string]map[string]bool),
		clients:    make(map[string]*MockClient),
	}
}

// SetRunning starts or stops the simulated server. Stopping does not notify
// open clients; use Shutdown for that.
func (m *MockBackend) SetRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = running
}

// Running reports whether the simulated server is up.
func (m *MockBackend) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SetAmbiguousProbe makes Probe return ProbeUnknown while the server is down.
func (m *MockBackend) SetAmbiguousProbe(ambiguous bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ambiguous = ambiguous
}

// SetOpenError makes the next opens fail with err. Nil restores normal opens.
func (m *MockBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetServerStartedOnOpen makes opens report that they launched the server.
func (m *MockBackend) SetServerStartedOnOpen(started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startsOnOpen = started
}

// FailPort makes registration of the given short port name fail.
func (m *MockBackend) FailPort(shortName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPorts[shortName] = true
}

// Opens returns how many clients have been opened.
func (m *MockBackend) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Unregisters returns how many port unregistrations clients have requested.
func (m *MockBackend) Unregisters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregs
}

// Probe implements Backend.
func (m *MockBackend) Probe(string) ProbeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.running:
		return ProbeRunning
	case m.ambiguous:
		return ProbeUnknown
	default:
		return ProbeNotRunning
	}
}

// Open implements Backend.
func (m *MockBackend) Open(name string) (Client, OpenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return nil, OpenInfo{}, m.openErr
	}
	if !m.running {
		return nil, OpenInfo{}, errors.New("server failed")
	}
	if _, taken := m.clients[name]; taken {
		return nil, OpenInfo{}, fmt.Errorf("client name %q in use", name)
	}

	c := &MockClient{backend: m, name: name}
	m.clients[name] = c
	m.opens++
	return c, OpenInfo{ServerStarted: m.startsOnOpen}, nil
}

// AddClient adds an external client with the given number of ports, named
// {name}:in_{i} and {name}:out_{i}.
func (m *MockBackend) AddClient(name string, inputs, outputs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i <= inputs; i++ {
		m.addPortLocked(nil, fmt.Sprintf("%s:in_%d", name, i), PortIsInput)
	}
	for i := 1; i <= outputs; i++ {
		m.addPortLocked(nil, fmt.Sprintf("%s:out_%d", name, i), PortIsOutput)
	}
}

// RemoveClient removes all ports of an external client and their connections.
func (m *MockBackend) RemoveClient(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, full := range slices.Clone(m.order) {
		if owner(full) == name {
			m.removePortLocked(full)
		}
	}
}

// Shutdown stops the server and invokes the shutdown callbacks of open clients.
func (m *MockBackend) Shutdown() {
	m.mu.Lock()
	m.running = false
	var callbacks []func()
	for name, c := range m.clients {
		if c.onShutdown != nil {
			callbacks = append(callbacks, c.onShutdown)
		}
		m.dropClientLocked(name)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// SetInput fills the buffer of the named port with samples.
func (m *MockBackend) SetInput(fullName string, samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.ports[fullName]; ok {
		p.buffer = slices.Clone(samples)
	}
}

// Cycle runs one processing cycle of nframes on every active client.
func (m *MockBackend) Cycle(nframes uint32) {
	for _, fn := range m.activeCallbacks(func(c *MockClient) func() {
		if c.process == nil {
			return nil
		}
		return func() { c.process(nframes) }
	}) {
		fn()
	}
}

// XRun reports an xrun to every active client.
func (m *MockBackend) XRun() {
	for _, fn := range m.activeCallbacks(func(c *MockClient) func() {
		if c.xrun == nil {
			return nil
		}
		return func() { c.xrun() }
	}) {
		fn()
	}
}

func (m *MockBackend) activeCallbacks(pick func(*MockClient) func()) []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fns []func()
	for _, c := range m.clients {
		if !c.active {
			continue
		}
		if fn := pick(c); fn != nil {
			fns = append(fns, fn)
		}
	}
	return fns
}

// IsConnected reports whether src is connected to dst.
func (m *MockBackend) IsConnected(src, dst string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edges[src][dst]
}

// PortNames returns every port name in registration order.
func (m *MockBackend) PortNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

func (m *MockBackend) addPortLocked(c *MockClient, full string, flags PortFlags) *mockPort {
	p := &mockPort{owner: c, name: full, flags: flags, buffer: make([]float32, m.bufferSize)}
	m.ports[full] = p
	m.order = append(m.order, full)
	return p
}

func (m *MockBackend) removePortLocked(full string) {
	delete(m.ports, full)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == full })
	for peer := range m.edges[full] {
		delete(m.edges[peer], full)
	}
	delete(m.edges, full)
}

func (m *MockBackend) dropClientLocked(name string) {
	for _, full := range slices.Clone(m.order) {
		if owner(full) == name {
			m.removePortLocked(full)
		}
	}
	delete(m.clients, name)
}

func owner(full string) string {
	client, _, _ := strings.Cut(full, ":")
	return client
}

// MockClient is a client opened on a MockBackend.
type MockClient struct {
	backend *MockBackend
	name    string
	active  bool
	closed  bool

	process    func(uint32) int
	xrun       func() int
	onShutdown func()
}

// Name implements Client.
func (c *MockClient) Name() string { return c.name }

// SampleRate implements Client.
func (c *MockClient) SampleRate() uint32 {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.backend.sampleRate
}

// BufferSize implements Client.
func (c *MockClient) BufferSize() uint32 {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.backend.bufferSize
}

// SetProcessCallback implements Client.
func (c *MockClient) SetProcessCallback(fn func(uint32) int) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.process = fn
	return nil
}

// SetXRunCallback implements Client.
func (c *MockClient) SetXRunCallback(fn func() int) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.xrun = fn
	return nil
}

// OnShutdown implements Client.
func (c *MockClient) OnShutdown(fn func()) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.onShutdown = fn
}

// Activate implements Client.
func (c *MockClient) Activate() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	c.active = true
	return nil
}

// Deactivate implements Client.
func (c *MockClient) Deactivate() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.active = false
	return nil
}

// Close implements Client.
func (c *MockClient) Close() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.active = false
	if c.backend.clients[c.name] == c {
		c.backend.dropClientLocked(c.name)
	}
	return nil
}

// RegisterPort implements Client.
func (c *MockClient) RegisterPort(name string, flags PortFlags) (Port, error) {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPorts[name] {
		return nil, fmt.Errorf("cannot register port %q", name)
	}
	full := c.name + ":" + name
	if _, exists := m.ports[full]; exists {
		return nil, fmt.Errorf("port %q already exists", full)
	}
	return m.addPortLocked(c, full, flags), nil
}

// UnregisterPort implements Client.
func (c *MockClient) UnregisterPort(p Port) error {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unregs++
	mp, ok := p.(*mockPort)
	if !ok || m.ports[mp.name] != mp {
		return fmt.Errorf("port %q not registered", p.Name())
	}
	if mp.owner != c {
		return fmt.Errorf("port %q belongs to another client", p.Name())
	}
	m.removePortLocked(p.Name())
	return nil
}

// Connect implements Client.
func (c *MockClient) Connect(src, dst string) error {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	sp, ok := m.ports[src]
	if !ok {
		return fmt.Errorf("no such port %q", src)
	}
	dp, ok := m.ports[dst]
	if !ok {
		return fmt.Errorf("no such port %q", dst)
	}
	if sp.flags&PortIsOutput == 0 || dp.flags&PortIsInput == 0 {
		return fmt.Errorf("cannot connect %q to %q: direction mismatch", src, dst)
	}
	if m.edges[src][dst] {
		return fmt.Errorf("%q already connected to %q", src, dst)
	}
	for _, pair := range [][2]string{{src, dst}, {dst, src}} {
		if m.edges[pair[0]] == nil {
			m.edges[pair[0]] = make(map[string]bool)
		}
		m.edges[pair[0]][pair[1]] = true
	}
	return nil
}

// Disconnect implements Client.
func (c *MockClient) Disconnect(src, dst string) error {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.edges[src][dst] {
		return fmt.Errorf("%q not connected to %q", src, dst)
	}
	delete(m.edges[src], dst)
	delete(m.edges[dst], src)
	return nil
}

// Ports implements Client.
func (c *MockClient) Ports(namePattern, typePattern string, flags PortFlags) []string {
	var re *regexp.Regexp
	if namePattern != "" {
		var err error
		if re, err = regexp.Compile(namePattern); err != nil {
			return nil
		}
	}
	if typePattern != "" {
		if ok, err := regexp.MatchString(typePattern, AudioPortType); err != nil || !ok {
			return nil
		}
	}

	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, full := range m.order {
		p := m.ports[full]
		if re != nil && !re.MatchString(full) {
			continue
		}
		if p.flags&flags != flags {
			continue
		}
		out = append(out, full)
	}
	return out
}

// Connections implements Client.
func (c *MockClient) Connections(fullName string) []string {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for peer, ok := range m.edges[fullName] {
		if ok {
			out = append(out, peer)
		}
	}
	slices.Sort(out)
	return out
}
