package jack

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contactlaplanque/akm-control/internal/audio"
	"github.com/contactlaplanque/akm-control/internal/types"
)

// Direction is the signal direction of a registered port.
type Direction int

// Port directions.
const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// PortHandle identifies a port registered by the driver.
type PortHandle struct {
	Direction Direction
	Index     int    // stable 1-based index within its direction
	Name      string // full "client:port" name
	port      Port
}

// ServerInfo describes the server the driver is connected to.
type ServerInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	BufferSize    uint32  `json:"buffer_size"`
	LatencyMs     float64 `json:"latency_ms"`
	ServerStarted bool    `json:"server_started"`
}

// session is the open client as seen by the real-time callbacks.
type session struct {
	client        Client
	serverStarted bool
	sampleRate    uint32
}

// portSet is an immutable set of registered ports read by the process callback.
// Levels are float32 bits indexed by input Index-1. Ports belong to owner and
// are invalid once that session is gone.
type portSet struct {
	owner   *session
	inputs  []PortHandle
	outputs []PortHandle
	levels  []atomic.Uint32
}

var emptyPorts = &portSet{}

var connStates = [...]types.ConnectionState{
	types.ConnDisconnected,
	types.ConnConnecting,
	types.ConnConnected,
	types.ConnFailed,
}

const (
	stateDisconnected uint32 = iota
	stateConnecting
	stateConnected
	stateFailed
)

// Driver owns the connection to the audio server and the ports registered on it.
// Connect and Disconnect are serialized internally; port registration is
// expected to be serialized by the caller.
type Driver struct {
	backend Backend
	logger  *slog.Logger

	mu   sync.Mutex // serializes Connect and Disconnect
	name atomic.Pointer[string]

	state        atomic.Uint32
	sess         atomic.Pointer[session]
	ports        atomic.Pointer[portSet]
	xruns        atomic.Uint64
	lastCallback atomic.Int64  // unix nanoseconds
	dspLoad      atomic.Uint32 // float32 bits, percent of the block period
}

// New creates a Driver using backend.
func New(backend Backend) *Driver {
	d := &Driver{
		backend: backend,
		logger:  slog.Default().With("component", "jack"),
	}
	d.ports.Store(emptyPorts)
	return d
}

// Connect opens and activates a client named clientName. It is a no-op
// while already connected.
func (d *Driver) Connect(clientName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.IsConnected() {
		return nil
	}

	if d.backend.Probe(clientName) == ProbeNotRunning {
		d.logger.Error("cannot connect, audio server not running", "client", clientName)
		return ErrServerNotRunning
	}

	d.setState(stateConnecting)

	client, info, err := d.backend.Open(clientName)
	if err != nil {
		d.setState(stateFailed)
		d.logger.Error("client open failed", "client", clientName, "error", err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s := &session{
		client:        client,
		serverStarted: info.ServerStarted,
		sampleRate:    client.SampleRate(),
	}

	client.OnShutdown(d.onShutdown)
	if err := client.SetXRunCallback(d.onXRun); err != nil {
		d.logger.Warn("failed to install xrun callback", "error", err)
	}
	if err := client.SetProcessCallback(d.process); err != nil {
		d.abort(client, err)
		return fmt.Errorf("%w: process callback: %w", ErrConnectFailed, err)
	}

	d.ports.Store(emptyPorts)
	d.sess.Store(s)
	if err := client.Activate(); err != nil {
		d.sess.Store(nil)
		d.abort(client, err)
		return fmt.Errorf("%w: activate: %w", ErrConnectFailed, err)
	}

	name := client.Name()
	d.name.Store(&name)
	d.setState(stateConnected)

	d.logger.Info("client connected",
		"client", name,
		"sample_rate", s.sampleRate,
		"buffer_size", client.BufferSize(),
		"server_started", info.ServerStarted)
	return nil
}

func (d *Driver) abort(client Client, err error) {
	if cerr := client.Close(); cerr != nil {
		d.logger.Warn("client close failed", "error", cerr)
	}
	d.setState(stateFailed)
	d.logger.Error("client setup failed", "error", err)
}

// Disconnect deactivates and closes the client. Registered ports die with
// the client. Safe to call when not connected.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.sess.Swap(nil)
	if s != nil {
		if err := s.client.Deactivate(); err != nil {
			d.logger.Warn("client deactivate failed", "error", err)
		}
		if err := s.client.Close(); err != nil {
			d.logger.Warn("client close failed", "error", err)
		}
	}
	d.ports.Store(emptyPorts)

	if prev := d.state.Swap(stateDisconnected); prev != stateDisconnected {
		d.logger.Info("client disconnected", "previous_state", connStates[prev])
	}
}

// RegisterAudioPorts replaces the registered ports with numInputs inputs and
// numOutputs outputs named {baseName}_in_{i} and {baseName}_out_{i}.
// Registration is best effort: a *PortRegistrationError lists the ports that
// failed, the rest stay registered.
func (d *Driver) RegisterAudioPorts(numInputs, numOutputs int, baseName string) error {
	s := d.connectedSession()
	if s == nil {
		return ErrNotConnected
	}

	d.UnregisterAllPorts()

	set := &portSet{
		owner:  s,
		levels: make([]atomic.Uint32, max(numInputs, 0)),
	}
	var failed []string

	register := func(dir Direction, flags PortFlags, suffix string, n int) []PortHandle {
		handles := make([]PortHandle, 0, n)
		for i := 1; i <= n; i++ {
			name := fmt.Sprintf("%s_%s_%d", baseName, suffix, i)
			p, err := s.client.RegisterPort(name, flags)
			if err != nil {
				d.logger.Warn("port registration failed", "port", name, "direction", dir, "error", err)
				failed = append(failed, name)
				continue
			}
			handles = append(handles, PortHandle{Direction: dir, Index: i, Name: p.Name(), port: p})
		}
		return handles
	}
	set.inputs = register(Input, PortIsInput, "in", numInputs)
	set.outputs = register(Output, PortIsOutput, "out", numOutputs)

	d.ports.Store(set)

	d.logger.Info("ports registered",
		"inputs", len(set.inputs),
		"outputs", len(set.outputs),
		"failed", len(failed))

	if len(failed) > 0 {
		return &PortRegistrationError{Failed: failed}
	}
	return nil
}

// UnregisterAllPorts removes every registered port and clears the levels.
func (d *Driver) UnregisterAllPorts() {
	old := d.ports.Swap(emptyPorts)
	if old == emptyPorts {
		return
	}

	s := d.connectedSession()
	if s == nil || old.owner != s {
		return
	}
	for _, h := range slices.Concat(old.inputs, old.outputs) {
		if err := s.client.UnregisterPort(h.port); err != nil {
			d.logger.Warn("port unregister failed", "port", h.Name, "error", err)
		}
	}
}

// ConnectPorts connects the source port to the destination port.
func (d *Driver) ConnectPorts(src, dst string) error {
	s := d.connectedSession()
	if s == nil {
		return ErrNotConnected
	}
	if err := s.client.Connect(src, dst); err != nil {
		return fmt.Errorf("connect %s -> %s: %w", src, dst, err)
	}
	d.logger.Info("ports connected", "source", src, "destination", dst)
	return nil
}

// DisconnectPorts removes the connection between the source and destination ports.
func (d *Driver) DisconnectPorts(src, dst string) error {
	s := d.connectedSession()
	if s == nil {
		return ErrNotConnected
	}
	if err := s.client.Disconnect(src, dst); err != nil {
		return fmt.Errorf("disconnect %s -> %s: %w", src, dst, err)
	}
	d.logger.Info("ports disconnected", "source", src, "destination", dst)
	return nil
}

// AvailablePorts lists ports matching the patterns and flags.
func (d *Driver) AvailablePorts(namePattern, typePattern string, flags PortFlags) []string {
	s := d.connectedSession()
	if s == nil {
		return nil
	}
	return s.client.Ports(namePattern, typePattern, flags)
}

// AllClients returns the sorted names of every client owning a port,
// excluding this driver's own client.
func (d *Driver) AllClients() []string {
	s := d.connectedSession()
	if s == nil {
		return nil
	}

	self := d.ClientName()
	seen := make(map[string]struct{})
	for _, full := range s.client.Ports("", "", 0) {
		client, _, ok := strings.Cut(full, ":")
		if !ok || client == self {
			continue
		}
		seen[client] = struct{}{}
	}

	clients := make([]string, 0, len(seen))
	for c := range seen {
		clients = append(clients, c)
	}
	slices.Sort(clients)
	return clients
}

// ClientPorts returns the input and output ports owned by the named client.
func (d *Driver) ClientPorts(name string) types.ClientPorts {
	cp := types.ClientPorts{Name: name}
	s := d.connectedSession()
	if s == nil {
		return cp
	}

	pattern := "^" + regexp.QuoteMeta(name) + ":"
	cp.Inputs = s.client.Ports(pattern, "", PortIsInput)
	cp.Outputs = s.client.Ports(pattern, "", PortIsOutput)
	return cp
}

// FreeInputPorts returns this driver's input ports that have no
// connections, in ascending index order.
func (d *Driver) FreeInputPorts() []PortHandle {
	s := d.connectedSession()
	if s == nil {
		return nil
	}

	var free []PortHandle
	for _, h := range d.ports.Load().inputs {
		if len(s.client.Connections(h.Name)) == 0 {
			free = append(free, h)
		}
	}
	return free
}

// Connections lists the ports connected to the named port.
func (d *Driver) Connections(fullName string) []string {
	s := d.connectedSession()
	if s == nil {
		return nil
	}
	return s.client.Connections(fullName)
}

// --- Real-time callbacks ---

// process runs on the server's real-time thread. It must not allocate,
// lock, or log.
func (d *Driver) process(nframes uint32) int {
	start := time.Now()

	s := d.sess.Load()
	if s == nil {
		return 0
	}

	set := d.ports.Load()
	for i := range set.inputs {
		h := &set.inputs[i]
		level := audio.RMS(h.port.Buffer(nframes))
		set.levels[h.Index-1].Store(math.Float32bits(level))
	}

	now := time.Now()
	d.lastCallback.Store(now.UnixNano())

	if s.sampleRate > 0 && nframes > 0 {
		period := time.Duration(nframes) * time.Second / time.Duration(s.sampleRate)
		load := float32(now.Sub(start)) / float32(period) * 100
		d.dspLoad.Store(math.Float32bits(load))
	}
	return 0
}

func (d *Driver) onXRun() int {
	d.xruns.Add(1)
	return 0
}

// onShutdown is called by the server when it shuts the client down. The
// ports died with the client, so their levels read as zero from here on.
func (d *Driver) onShutdown() {
	d.state.Store(stateFailed)
	d.sess.Store(nil)
	d.ports.Store(emptyPorts)
}

// --- Accessors ---

func (d *Driver) setState(s uint32) {
	d.state.Store(s)
}

func (d *Driver) connectedSession() *session {
	if !d.IsConnected() {
		return nil
	}
	return d.sess.Load()
}

// State returns the current connection state.
func (d *Driver) State() types.ConnectionState {
	return connStates[d.state.Load()]
}

// IsConnected reports whether the client is open and active.
func (d *Driver) IsConnected() bool {
	return d.state.Load() == stateConnected && d.sess.Load() != nil
}

// ClientName returns the name assigned by the server to the last opened client.
func (d *Driver) ClientName() string {
	if n := d.name.Load(); n != nil {
		return *n
	}
	return ""
}

// SampleRate returns the server sample rate, or 0 when not connected.
func (d *Driver) SampleRate() uint32 {
	if s := d.connectedSession(); s != nil {
		return s.sampleRate
	}
	return 0
}

// BufferSize returns the server block size, or 0 when not connected.
func (d *Driver) BufferSize() uint32 {
	if s := d.connectedSession(); s != nil {
		return s.client.BufferSize()
	}
	return 0
}

// CPUUsage returns the share of the last block period spent in the process
// callback, in percent.
func (d *Driver) CPUUsage() float32 {
	return math.Float32frombits(d.dspLoad.Load())
}

// XRunCount returns the number of xruns since the driver was created.
func (d *Driver) XRunCount() uint64 {
	return d.xruns.Load()
}

// LastCallback returns the time of the most recent process callback.
func (d *Driver) LastCallback() time.Time {
	ns := d.lastCallback.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Metrics returns a snapshot of the performance counters.
func (d *Driver) Metrics() types.PerformanceMetrics {
	rate, size := d.SampleRate(), d.BufferSize()
	return types.PerformanceMetrics{
		CPUUsagePercent:     d.CPUUsage(),
		XRunCount:           d.XRunCount(),
		CallbackTimestamp:   d.LastCallback(),
		BufferLatencyFrames: size,
		SampleRate:          rate,
		BufferSize:          size,
	}
}

// InputLevel returns the linear RMS of the zero-based input channel, or 0
// if out of range.
func (d *Driver) InputLevel(channel int) float32 {
	levels := d.ports.Load().levels
	if channel < 0 || channel >= len(levels) {
		return 0
	}
	return math.Float32frombits(levels[channel].Load())
}

// InputLevels returns a copy of all input levels.
func (d *Driver) InputLevels() []float32 {
	levels := d.ports.Load().levels
	out := make([]float32, len(levels))
	for i := range levels {
		out[i] = math.Float32frombits(levels[i].Load())
	}
	return out
}

// InputPorts returns the registered input ports.
func (d *Driver) InputPorts() []PortHandle {
	return slices.Clone(d.ports.Load().inputs)
}

// OutputPorts returns the registered output ports.
func (d *Driver) OutputPorts() []PortHandle {
	return slices.Clone(d.ports.Load().outputs)
}

// WasServerStarted reports whether opening the current client launched the server.
func (d *Driver) WasServerStarted() bool {
	if s := d.sess.Load(); s != nil {
		return s.serverStarted
	}
	return false
}

// ServerInfo describes the connected server.
func (d *Driver) ServerInfo() ServerInfo {
	m := d.Metrics()
	return ServerInfo{
		SampleRate:    m.SampleRate,
		BufferSize:    m.BufferSize,
		LatencyMs:     m.LatencyMs(),
		ServerStarted: d.WasServerStarted(),
	}
}

// Status summarizes the driver for status responses.
func (d *Driver) Status() types.JackStatus {
	set := d.ports.Load()
	m := d.Metrics()
	return types.JackStatus{
		State:         d.State(),
		ClientName:    d.ClientName(),
		ServerStarted: d.WasServerStarted(),
		InputPorts:    len(set.inputs),
		OutputPorts:   len(set.outputs),
		Metrics:       m,
		LatencyMs:     m.LatencyMs(),
	}
}
