package monitor

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/types"
)

// ErrNotPending is returned by Accept and Reject for clients awaiting no decision.
var ErrNotPending = errors.New("client is not pending")

// Graph is the part of the driver the discovery monitor reads and wires.
type Graph interface {
	IsConnected() bool
	AllClients() []string
	ClientPorts(name string) types.ClientPorts
	FreeInputPorts() []jack.PortHandle
	ConnectPorts(src, dst string) error
}

// DiscoveryConfig configures the discovery monitor.
type DiscoveryConfig struct {
	Interval         time.Duration
	AutoConnect      bool
	AutoConnectDelay time.Duration
	Ignored          []string
}

// Discovery polls the set of external clients, reports arrivals and
// departures, and wires new clients to free inputs.
type Discovery struct {
	graph    Graph
	onClient func(types.ClientEvent)
	onWire   func(client string, results []types.WireResult)
	logger   *slog.Logger

	autoConnect atomic.Bool
	loop        poller
	wiring      sync.WaitGroup
	checking    sync.Mutex // serializes Check

	mu       sync.Mutex
	cfg      DiscoveryConfig
	ignored  map[string]struct{}
	known    map[string]types.ClientPorts
	pending  map[string]struct{}
	rejected map[string]struct{}
}

// NewDiscovery creates a discovery monitor. The callbacks may be nil.
func NewDiscovery(graph Graph, cfg DiscoveryConfig, onClient func(types.ClientEvent), onWire func(string, []types.WireResult)) *Discovery {
	cfg.Interval = max(cfg.Interval, types.MinDiscoveryInterval)
	d := &Discovery{
		graph:    graph,
		onClient: onClient,
		onWire:   onWire,
		logger:   slog.Default().With("component", "jack"),
		cfg:      cfg,
		ignored:  toSet(cfg.Ignored),
		known:    make(map[string]types.ClientPorts),
		pending:  make(map[string]struct{}),
		rejected: make(map[string]struct{}),
	}
	d.autoConnect.Store(cfg.AutoConnect)
	return d
}

// DiffClients returns the names in curr but not prev and those in prev but
// not curr, each sorted.
func DiffClients(prev, curr []string) (added, removed []string) {
	before, after := toSet(prev), toSet(curr)
	for name := range after {
		if _, ok := before[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// Start begins polling. It is a no-op if already running.
func (d *Discovery) Start(ctx context.Context) {
	d.mu.Lock()
	interval := d.cfg.Interval
	d.mu.Unlock()

	if d.loop.start(ctx, interval, d.Check) {
		d.logger.Info("discovery monitor started", "interval", interval)
	}
}

// Stop cancels polling and waits for in-flight checks and wiring.
func (d *Discovery) Stop() {
	if !d.loop.running() {
		return
	}
	d.loop.stop()
	d.wiring.Wait()
	d.logger.Info("discovery monitor stopped")
}

// Running reports whether the monitor is polling.
func (d *Discovery) Running() bool {
	return d.loop.running()
}

// SetAutoConnect enables or disables automatic wiring of new clients.
func (d *Discovery) SetAutoConnect(enabled bool) {
	d.autoConnect.Store(enabled)
}

// AutoConnect reports whether new clients are wired automatically.
func (d *Discovery) AutoConnect() bool {
	return d.autoConnect.Load()
}

// SetConfig replaces the discovery parameters. A new interval applies on
// the next Start.
func (d *Discovery) SetConfig(cfg DiscoveryConfig) {
	cfg.Interval = max(cfg.Interval, types.MinDiscoveryInterval)
	d.mu.Lock()
	d.cfg = cfg
	d.ignored = toSet(cfg.Ignored)
	d.mu.Unlock()
	d.SetAutoConnect(cfg.AutoConnect)
}

// Check performs one poll. Concurrent calls run one after the other, so a
// new client is reported and wired once.
func (d *Discovery) Check(ctx context.Context) {
	d.checking.Lock()
	defer d.checking.Unlock()

	if !d.graph.IsConnected() {
		return
	}

	current := d.graph.AllClients()

	d.mu.Lock()
	current = slices.DeleteFunc(current, func(name string) bool {
		_, ignored := d.ignored[name]
		_, rejected := d.rejected[name]
		return ignored || rejected
	})
	added, removed := DiffClients(slices.Collect(maps.Keys(d.known)), current)
	d.mu.Unlock()

	ports := make(map[string]types.ClientPorts, len(current))
	for _, name := range current {
		ports[name] = d.graph.ClientPorts(name)
	}

	d.mu.Lock()
	for name := range d.rejected {
		delete(ports, name)
	}
	d.known = ports
	for _, name := range removed {
		delete(d.pending, name)
	}
	autoConnect := d.autoConnect.Load()
	delay := d.cfg.AutoConnectDelay
	if !autoConnect {
		for _, name := range added {
			d.pending[name] = struct{}{}
		}
	}
	d.mu.Unlock()

	now := time.Now()
	for _, name := range removed {
		d.logger.Info("client disconnected", "client", name)
		d.emit(types.ClientEvent{Type: types.ClientDisconnected, Client: name, Time: now})
	}

	for _, name := range added {
		cp := ports[name]
		d.logger.Info("client connected", "client", name, "inputs", len(cp.Inputs), "outputs", len(cp.Outputs))
		d.emit(types.ClientEvent{
			Type:    types.ClientConnected,
			Client:  name,
			Inputs:  cp.Inputs,
			Outputs: cp.Outputs,
			Time:    now,
		})

		if autoConnect {
			d.scheduleWire(ctx, name, delay)
		} else {
			d.logger.Info("client awaiting approval", "client", name)
		}
	}
}

// scheduleWire wires name after delay unless ctx is cancelled first.
func (d *Discovery) scheduleWire(ctx context.Context, name string, delay time.Duration) {
	d.wiring.Add(1)
	go func() {
		defer d.wiring.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		d.Wire(name)
	}()
}

// Wire connects the named client's outputs to this driver's free inputs,
// pairing them in ascending order until either side runs out.
func (d *Discovery) Wire(name string) []types.WireResult {
	outputs := d.graph.ClientPorts(name).Outputs
	free := d.graph.FreeInputPorts()

	n := min(len(outputs), len(free))
	if n == 0 {
		d.logger.Info("nothing to wire", "client", name, "outputs", len(outputs), "free_inputs", len(free))
	}

	results := make([]types.WireResult, 0, n)
	for i := range n {
		r := types.WireResult{Source: outputs[i], Destination: free[i].Name}
		if err := d.graph.ConnectPorts(r.Source, r.Destination); err != nil {
			r.Error = err.Error()
			d.logger.Warn("auto-connect failed", "client", name, "source", r.Source, "destination", r.Destination, "error", err)
		} else {
			d.logger.Info("auto-connected", "client", name, "source", r.Source, "destination", r.Destination)
		}
		results = append(results, r)
	}

	if d.onWire != nil {
		d.onWire(name, results)
	}
	return results
}

// Accept wires a pending client.
func (d *Discovery) Accept(name string) ([]types.WireResult, error) {
	d.mu.Lock()
	if _, ok := d.pending[name]; !ok {
		d.mu.Unlock()
		return nil, ErrNotPending
	}
	delete(d.pending, name)
	d.mu.Unlock()

	d.logger.Info("client accepted", "client", name)
	return d.Wire(name), nil
}

// Reject ignores a pending client for the rest of the session.
func (d *Discovery) Reject(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[name]; !ok {
		return ErrNotPending
	}
	delete(d.pending, name)
	delete(d.known, name)
	d.rejected[name] = struct{}{}

	d.logger.Info("client rejected", "client", name)
	return nil
}

// Pending returns the sorted names of clients awaiting Accept or Reject.
func (d *Discovery) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.pending))
}

// Clients returns the ports of every known external client, sorted by name.
func (d *Discovery) Clients() []types.ClientPorts {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]types.ClientPorts, 0, len(d.known))
	for _, name := range slices.Sorted(maps.Keys(d.known)) {
		out = append(out, d.known[name])
	}
	return out
}

// Reset forgets known and pending clients, so the next poll reports every
// client as new. Rejections are kept.
func (d *Discovery) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.known)
	clear(d.pending)
}

func (d *Discovery) emit(ev types.ClientEvent) {
	if d.onClient != nil {
		d.onClient(ev)
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
