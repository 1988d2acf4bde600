package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// errAutoStartDisabled is returned by recovery when the server is down and
// may not be started.
var errAutoStartDisabled = errors.New("audio server not running and auto-start disabled")

// Connection is the part of the driver the health monitor drives.
type Connection interface {
	State() types.ConnectionState
	Connect(clientName string) error
	RegisterAudioPorts(numInputs, numOutputs int, baseName string) error
}

// ServerControl is the part of the server supervisor the health monitor drives.
type ServerControl interface {
	IsServerRunning() bool
	EnsureServerRunning(ctx context.Context, path string) error
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Interval        time.Duration
	ClientName      string
	PortBaseName    string
	NumInputs       int
	NumOutputs      int
	ServerPath      string
	AutoStartServer bool
	AutoRecover     bool
}

// Health polls the connection state, reports transitions, and recovers
// from server death.
type Health struct {
	conn    Connection
	server  ServerControl
	onEvent func(types.LifecycleEvent)
	logger  *slog.Logger
	now     func() time.Time

	autoRecover atomic.Bool
	backoff     *util.Backoff
	loop        poller

	mu        sync.Mutex
	cfg       HealthConfig
	lastState types.ConnectionState
}

// NewHealth creates a health monitor. onEvent may be nil.
func NewHealth(conn Connection, server ServerControl, cfg HealthConfig, onEvent func(types.LifecycleEvent)) *Health {
	cfg.Interval = max(cfg.Interval, types.MinHealthInterval)
	h := &Health{
		conn:      conn,
		server:    server,
		onEvent:   onEvent,
		logger:    slog.Default().With("component", "jack"),
		now:       time.Now,
		backoff:   util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		cfg:       cfg,
		lastState: conn.State(),
	}
	h.autoRecover.Store(cfg.AutoRecover)
	return h
}

// Start begins polling. It is a no-op if already running.
func (h *Health) Start(ctx context.Context) {
	h.mu.Lock()
	h.lastState = h.conn.State()
	interval := h.cfg.Interval
	h.mu.Unlock()

	if h.loop.start(ctx, interval, h.Check) {
		h.logger.Info("health monitor started", "interval", interval)
	}
}

// Stop cancels polling and waits for an in-flight check.
func (h *Health) Stop() {
	if h.loop.running() {
		h.loop.stop()
		h.logger.Info("health monitor stopped")
	}
}

// Running reports whether the monitor is polling.
func (h *Health) Running() bool {
	return h.loop.running()
}

// SetAutoRecover enables or disables automatic recovery.
func (h *Health) SetAutoRecover(enabled bool) {
	h.autoRecover.Store(enabled)
	if enabled {
		h.backoff.Reset()
	}
}

// AutoRecover reports whether automatic recovery is enabled.
func (h *Health) AutoRecover() bool {
	return h.autoRecover.Load()
}

// SetConfig replaces the recovery parameters. A new interval applies on the
// next Start.
func (h *Health) SetConfig(cfg HealthConfig) {
	cfg.Interval = max(cfg.Interval, types.MinHealthInterval)
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	h.SetAutoRecover(cfg.AutoRecover)
}

// Check performs one poll.
func (h *Health) Check(ctx context.Context) {
	state := h.conn.State()

	h.mu.Lock()
	prev := h.lastState
	h.lastState = state
	cfg := h.cfg
	h.mu.Unlock()

	if state != prev {
		h.logger.Info("connection state changed", "from", prev, "to", state)
		h.emit(types.LifecycleEvent{Type: types.EventStateChange, From: prev, To: state})
		if prev == types.ConnConnected && state == types.ConnFailed {
			h.logger.Warn("audio server shut down unexpectedly")
			h.emit(types.LifecycleEvent{
				Type:    types.EventUnexpectedShutdown,
				From:    prev,
				To:      state,
				Message: "audio server shut down the client",
			})
		}
	}

	if state == types.ConnConnected {
		h.backoff.Reset()
		return
	}
	if !h.autoRecover.Load() {
		return
	}

	now := h.now()
	if !h.backoff.Ready(now) {
		return
	}

	if err := h.recover(ctx, cfg); err != nil {
		delay := h.backoff.Defer(now)
		h.logger.Warn("recovery failed", "error", err, "retry_in", delay, "attempt", h.backoff.Attempts())
		h.emit(types.LifecycleEvent{Type: types.EventRecoveryFailed, Message: err.Error()})
		return
	}

	h.backoff.Reset()
	h.logger.Info("connection recovered")
	h.emit(types.LifecycleEvent{Type: types.EventRecovered, Message: "audio client reconnected"})
}

func (h *Health) recover(ctx context.Context, cfg HealthConfig) error {
	if !h.server.IsServerRunning() {
		if !cfg.AutoStartServer {
			return errAutoStartDisabled
		}
		h.logger.Info("starting audio server for recovery")
		if err := h.server.EnsureServerRunning(ctx, cfg.ServerPath); err != nil {
			return fmt.Errorf("start server: %w", err)
		}
	}

	if err := h.conn.Connect(cfg.ClientName); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	if err := h.conn.RegisterAudioPorts(cfg.NumInputs, cfg.NumOutputs, cfg.PortBaseName); err != nil {
		var regErr *jack.PortRegistrationError
		if !errors.As(err, &regErr) {
			return fmt.Errorf("register ports: %w", err)
		}
		h.logger.Warn("some ports failed to register after recovery", "failed", regErr.Failed)
	}
	return nil
}

func (h *Health) emit(ev types.LifecycleEvent) {
	if h.onEvent == nil {
		return
	}
	ev.Time = time.Now()
	h.onEvent(ev)
}
