// Package bus publishes lifecycle and client events to NATS.
package bus

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectLifecycle = "lifecycle"
	SubjectClient    = "client"
	SubjectWire      = "wire"
	SubjectSynth     = "synth"
)

// Conn is the subset of a NATS connection used by the publisher.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// ConnAdapter adapts *nats.Conn to Conn.
type ConnAdapter struct {
	conn *nats.Conn
}

// NewConnAdapter wraps conn.
func NewConnAdapter(conn *nats.Conn) *ConnAdapter {
	return &ConnAdapter{conn: conn}
}

// Publish sends data on subject.
func (a *ConnAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

// Close drains pending messages and closes the connection.
func (a *ConnAdapter) Close() {
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
	}
}

// Envelope wraps every published event.
type Envelope struct {
	Kind     string    `json:"kind"`
	Instance string    `json:"instance"`
	Time     time.Time `json:"time"`
	Event    any       `json:"event"`
}

// SynthEvent reports a synthesis server state change.
type SynthEvent struct {
	State   types.ProcessState `json:"state"`
	Message string             `json:"message,omitempty"`
}

// WireEvent reports the outcome of wiring a client.
type WireEvent struct {
	Client  string             `json:"client"`
	Results []types.WireResult `json:"results"`
}

// Publisher publishes events under a subject prefix. Publish errors are
// logged and counted, never returned to the caller.
type Publisher struct {
	conn     Conn
	prefix   string
	instance string
	logger   *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// Connect dials url and returns a publisher. The client keeps reconnecting
// in the background if the server goes away.
func Connect(url, prefix, instance string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(instance),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "component", "bus", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "component", "bus", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, util.WrapError("connect to NATS", err)
	}
	slog.Info("connected to NATS", "component", "bus", "url", url)
	return NewPublisher(NewConnAdapter(nc), prefix, instance), nil
}

// NewPublisher returns a publisher using an existing connection.
func NewPublisher(conn Conn, prefix, instance string) *Publisher {
	return &Publisher{
		conn:     conn,
		prefix:   strings.Trim(prefix, "."),
		instance: instance,
		logger:   slog.Default().With("component", "bus"),
	}
}

// Subject returns the full subject for the given parts.
func (p *Publisher) Subject(parts ...string) string {
	if p.prefix == "" {
		return strings.Join(parts, ".")
	}
	return p.prefix + "." + strings.Join(parts, ".")
}

// PublishLifecycle publishes ev on <prefix>.lifecycle.<type>.
func (p *Publisher) PublishLifecycle(ev types.LifecycleEvent) {
	p.publish(p.Subject(SubjectLifecycle, string(ev.Type)), string(ev.Type), ev.Time, ev)
}

// PublishClient publishes ev on <prefix>.client.<type>.
func (p *Publisher) PublishClient(ev types.ClientEvent) {
	p.publish(p.Subject(SubjectClient, string(ev.Type)), string(ev.Type), ev.Time, ev)
}

// PublishWire publishes wiring results on <prefix>.wire.
func (p *Publisher) PublishWire(client string, results []types.WireResult) {
	p.publish(p.Subject(SubjectWire), SubjectWire, time.Now(), WireEvent{Client: client, Results: results})
}

// PublishSynth publishes a synthesis server state on <prefix>.synth.<state>.
func (p *Publisher) PublishSynth(state types.ProcessState, message string) {
	p.publish(p.Subject(SubjectSynth, string(state)), SubjectSynth, time.Now(), SynthEvent{State: state, Message: message})
}

func (p *Publisher) publish(subject, kind string, at time.Time, event any) {
	if at.IsZero() {
		at = time.Now()
	}
	data, err := json.Marshal(Envelope{Kind: kind, Instance: p.instance, Time: at, Event: event})
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to encode event", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
		return
	}
	p.published.Add(1)
}

// Stats returns the number of published and failed messages.
func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close closes the underlying connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
