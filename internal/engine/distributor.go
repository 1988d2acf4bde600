package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/contactlaplanque/akm-control/internal/eventlog"
	"github.com/contactlaplanque/akm-control/internal/metrics"
	"github.com/contactlaplanque/akm-control/internal/notify"
	"github.com/contactlaplanque/akm-control/internal/types"
)

// subscriberBuffer is the per-subscriber queue length. Events for a full
// subscriber are dropped.
const subscriberBuffer = 32

// Publisher receives events for an external bus. bus.Publisher satisfies it.
type Publisher interface {
	PublishLifecycle(types.LifecycleEvent)
	PublishClient(types.ClientEvent)
	PublishWire(client string, results []types.WireResult)
	PublishSynth(state types.ProcessState, message string)
}

// Event is delivered to subscribers. Exactly one of the fields is set.
type Event struct {
	Lifecycle *types.LifecycleEvent `json:"lifecycle,omitempty"`
	Client    *types.ClientEvent    `json:"client,omitempty"`
	Wire      *WireEvent            `json:"wire,omitempty"`
	Synth     *SynthEvent           `json:"synth,omitempty"`
}

// WireEvent reports the outcome of wiring a client.
type WireEvent struct {
	Client  string             `json:"client"`
	Results []types.WireResult `json:"results"`
}

// SynthEvent reports a synthesis server state change.
type SynthEvent struct {
	State   types.ProcessState `json:"state"`
	Message string             `json:"message,omitempty"`
}

// Distributor fans out lifecycle, client, and synthesis events to the event
// log, notifier, bus, metrics, and subscribers. None of its methods block.
type Distributor struct {
	eventLog  *eventlog.Logger
	notifier  *notify.Notifier
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewDistributor creates a distributor. Any sink may be nil.
func NewDistributor(eventLog *eventlog.Logger, notifier *notify.Notifier, publisher Publisher, m *metrics.Metrics) *Distributor {
	return &Distributor{
		eventLog:  eventLog,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "engine"),
		subs:      make(map[chan Event]struct{}),
	}
}

// Lifecycle distributes a connection or server lifecycle event.
func (d *Distributor) Lifecycle(ev types.LifecycleEvent) {
	if d.eventLog != nil {
		if err := d.eventLog.LogLifecycle(ev); err != nil {
			d.logger.Warn("failed to log lifecycle event", "type", ev.Type, "error", err)
		}
	}
	if d.notifier != nil {
		d.notifier.HandleLifecycle(ev)
	}
	if d.publisher != nil {
		d.publisher.PublishLifecycle(ev)
	}
	if d.metrics != nil {
		d.metrics.RecordLifecycle(context.Background(), ev.Type)
	}
	d.broadcast(Event{Lifecycle: &ev})
}

// Client distributes a discovery event.
func (d *Distributor) Client(ev types.ClientEvent) {
	if d.eventLog != nil {
		if err := d.eventLog.LogClient(ev); err != nil {
			d.logger.Warn("failed to log client event", "client", ev.Client, "error", err)
		}
	}
	if d.publisher != nil {
		d.publisher.PublishClient(ev)
	}
	if d.metrics != nil {
		d.metrics.RecordClient(context.Background(), ev.Type)
	}
	d.broadcast(Event{Client: &ev})
}

// Wire distributes the outcome of wiring a client.
func (d *Distributor) Wire(client string, results []types.WireResult) {
	if d.eventLog != nil {
		if err := d.eventLog.LogWire(client, results); err != nil {
			d.logger.Warn("failed to log wire event", "client", client, "error", err)
		}
	}
	if d.publisher != nil {
		d.publisher.PublishWire(client, results)
	}
	if d.metrics != nil {
		d.metrics.RecordWire(context.Background(), results)
	}
	d.broadcast(Event{Wire: &WireEvent{Client: client, Results: results}})
}

// Rejected records that a pending client was rejected.
func (d *Distributor) Rejected(client string) {
	if d.eventLog != nil {
		if err := d.eventLog.Log(&eventlog.Event{Type: eventlog.ClientRejected, Client: client}); err != nil {
			d.logger.Warn("failed to log client rejection", "client", client, "error", err)
		}
	}
}

// Synth distributes a synthesis server state change. An unexpected exit
// also alerts.
func (d *Distributor) Synth(kind eventlog.EventType, state types.ProcessState, message string) {
	if d.eventLog != nil {
		if err := d.eventLog.LogSynth(kind, message); err != nil {
			d.logger.Warn("failed to log synth event", "type", kind, "error", err)
		}
	}
	if kind == eventlog.SynthExited && d.notifier != nil {
		d.notifier.HandleSynthExit(message)
	}
	if d.publisher != nil {
		d.publisher.PublishSynth(state, message)
	}
	d.broadcast(Event{Synth: &SynthEvent{State: state, Message: message}})
}

// Subscribe returns a channel receiving every event and a function that
// unsubscribes and closes it.
func (d *Distributor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, ch)
			d.mu.Unlock()
			close(ch)
		})
	}
}

func (d *Distributor) broadcast(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.logger.Debug("subscriber queue full, event dropped")
		}
	}
}
