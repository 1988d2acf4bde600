package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/types"
)

type clientRecorder struct {
	mu     sync.Mutex
	events []types.ClientEvent
	wired  map[string][]types.WireResult
}

func (r *clientRecorder) client(ev types.ClientEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *clientRecorder) wire(name string, results []types.WireResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wired == nil {
		r.wired = make(map[string][]types.WireResult)
	}
	r.wired[name] = results
}

func (r *clientRecorder) wiredFor(name string) ([]types.WireResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.wired[name]
	return res, ok
}

func (r *clientRecorder) summary() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = string(ev.Type) + ":" + ev.Client
	}
	return out
}

func discoveryFixture(t *testing.T, inputs int, autoConnect bool) (*Discovery, *jack.Driver, *jack.MockBackend, *clientRecorder) {
	t.Helper()
	mb := jack.NewMockBackend()
	drv := jack.New(mb)
	require.NoError(t, drv.Connect("akm"))
	require.NoError(t, drv.RegisterAudioPorts(inputs, 0, "akm"))

	rec := &clientRecorder{}
	d := NewDiscovery(drv, DiscoveryConfig{
		AutoConnect: autoConnect,
		Ignored:     []string{"SuperCollider", "system"},
	}, rec.client, rec.wire)
	return d, drv, mb, rec
}

func TestDiffClients(t *testing.T) {
	added, removed := DiffClients([]string{"A", "B"}, []string{"B", "C"})
	assert.Equal(t, []string{"C"}, added)
	assert.Equal(t, []string{"A"}, removed)

	added, removed = DiffClients(nil, nil)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestDiscoveryEvents(t *testing.T) {
	d, _, mb, rec := discoveryFixture(t, 2, false)
	mb.AddClient("system", 2, 2)
	mb.AddClient("SuperCollider", 2, 2)
	mb.AddClient("A", 0, 1)
	mb.AddClient("B", 0, 1)

	d.Check(t.Context())
	assert.Equal(t, []string{"client_connected:A", "client_connected:B"}, rec.summary())

	mb.RemoveClient("A")
	mb.AddClient("C", 1, 0)
	d.Check(t.Context())

	assert.Equal(t, []string{
		"client_connected:A", "client_connected:B",
		"client_disconnected:A", "client_connected:C",
	}, rec.summary())

	clients := d.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, "B", clients[0].Name)
	assert.Equal(t, []string{"C:in_1"}, clients[1].Inputs)
}

func TestDiscoveryConnectedEventCarriesPorts(t *testing.T) {
	d, _, mb, rec := discoveryFixture(t, 2, false)
	mb.AddClient("ableton", 1, 2)

	d.Check(t.Context())

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, types.ClientConnected, ev.Type)
	assert.Equal(t, []string{"ableton:in_1"}, ev.Inputs)
	assert.Equal(t, []string{"ableton:out_1", "ableton:out_2"}, ev.Outputs)
}

// slowGraph blocks the first ClientPorts call until released.
type slowGraph struct {
	*jack.Driver
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *slowGraph) ClientPorts(name string) types.ClientPorts {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Driver.ClientPorts(name)
}

func TestDiscoveryConcurrentChecksReportOnce(t *testing.T) {
	_, drv, mb, rec := discoveryFixture(t, 4, true)
	g := &slowGraph{Driver: drv, entered: make(chan struct{}), release: make(chan struct{})}
	d := NewDiscovery(g, DiscoveryConfig{AutoConnect: true}, rec.client, rec.wire)
	mb.AddClient("ableton", 0, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Check(context.Background())
	}()
	<-g.entered
	go func() {
		defer wg.Done()
		d.Check(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.Equal(t, []string{"client_connected:ableton"}, rec.summary())
	require.Eventually(t, func() bool {
		_, ok := rec.wiredFor("ableton")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	d.wiring.Wait()
	free := drv.FreeInputPorts()
	require.Len(t, free, 2)
	assert.Equal(t, "akm:akm_in_3", free[0].Name)
}

func TestDiscoveryAutoConnect(t *testing.T) {
	d, drv, mb, rec := discoveryFixture(t, 2, true)
	mb.AddClient("ableton", 0, 3)

	d.Check(t.Context())

	require.Eventually(t, func() bool {
		_, ok := rec.wiredFor("ableton")
		return ok
	}, time.Second, 5*time.Millisecond)

	results, _ := rec.wiredFor("ableton")
	require.Len(t, results, 2)
	assert.Equal(t, types.WireResult{Source: "ableton:out_1", Destination: "akm:akm_in_1"}, results[0])
	assert.Equal(t, types.WireResult{Source: "ableton:out_2", Destination: "akm:akm_in_2"}, results[1])
	assert.True(t, mb.IsConnected("ableton:out_2", "akm:akm_in_2"))
	assert.Empty(t, drv.FreeInputPorts())
	assert.Empty(t, d.Pending())
}

func TestDiscoveryAutoConnectUsesFreeInputsOnly(t *testing.T) {
	d, drv, mb, _ := discoveryFixture(t, 3, false)
	mb.AddClient("first", 0, 1)
	mb.AddClient("second", 0, 4)
	require.NoError(t, drv.ConnectPorts("first:out_1", "akm:akm_in_1"))

	results := d.Wire("second")
	require.Len(t, results, 2)
	assert.Equal(t, "akm:akm_in_2", results[0].Destination)
	assert.Equal(t, "akm:akm_in_3", results[1].Destination)
}

func TestDiscoveryAcceptReject(t *testing.T) {
	d, _, mb, rec := discoveryFixture(t, 2, false)
	mb.AddClient("ableton", 0, 1)
	mb.AddClient("reaper", 0, 1)

	d.Check(t.Context())
	assert.Equal(t, []string{"ableton", "reaper"}, d.Pending())

	results, err := d.Accept("ableton")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, mb.IsConnected("ableton:out_1", "akm:akm_in_1"))

	_, err = d.Accept("ableton")
	assert.ErrorIs(t, err, ErrNotPending)

	require.NoError(t, d.Reject("reaper"))
	assert.ErrorIs(t, d.Reject("reaper"), ErrNotPending)
	assert.Empty(t, d.Pending())

	// A rejected client produces no further events.
	d.Check(t.Context())
	assert.Equal(t, []string{"client_connected:ableton", "client_connected:reaper"}, rec.summary())
	assert.Len(t, d.Clients(), 1)
}

func TestDiscoverySkipsWhenDisconnected(t *testing.T) {
	d, drv, mb, rec := discoveryFixture(t, 2, false)
	mb.AddClient("ableton", 0, 1)
	drv.Disconnect()

	d.Check(t.Context())
	assert.Empty(t, rec.summary())
}

func TestDiscoveryCancelAbortsPendingWiring(t *testing.T) {
	d, _, mb, rec := discoveryFixture(t, 2, true)
	d.SetConfig(DiscoveryConfig{AutoConnect: true, AutoConnectDelay: time.Hour})
	mb.AddClient("ableton", 0, 1)

	ctx, cancel := context.WithCancel(t.Context())
	d.Check(ctx)
	cancel()
	d.wiring.Wait()

	_, wired := rec.wiredFor("ableton")
	assert.False(t, wired)
}

func TestDiscoveryStartStop(t *testing.T) {
	d, _, _, _ := discoveryFixture(t, 1, true)
	d.Start(t.Context())
	assert.True(t, d.Running())
	d.Stop()
	d.Stop()
	assert.False(t, d.Running())
}
