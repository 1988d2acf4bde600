// Package engine owns the audio stack: the audio client, the audio server
// and synthesis server supervisors, the health and discovery monitors, the
// level meter, and the event sinks. Commands from the control surface reach
// the stack through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/contactlaplanque/akm-control/internal/archive"
	"github.com/contactlaplanque/akm-control/internal/audio"
	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/console"
	"github.com/contactlaplanque/akm-control/internal/eventlog"
	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/jackd"
	"github.com/contactlaplanque/akm-control/internal/metrics"
	"github.com/contactlaplanque/akm-control/internal/monitor"
	"github.com/contactlaplanque/akm-control/internal/notify"
	"github.com/contactlaplanque/akm-control/internal/sclang"
	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// levelInterval is how often the level meter is fed.
const levelInterval = 100 * time.Millisecond

// shutdownKillTimeout bounds killing the audio server on shutdown.
const shutdownKillTimeout = 10 * time.Second

// SourceSynth names the synthesis server's console.
const SourceSynth = "synth"

// Sentinel errors for engine operations.
var (
	ErrAlreadyRunning   = errors.New("engine already running")
	ErrUnknownSource    = errors.New("unknown console source")
	ErrArchiveDisabled  = errors.New("archive not configured")
	ErrEventLogDisabled = errors.New("event log disabled")
	ErrInvalidDirection = errors.New("direction must be input, output, or empty")
)

// Options carries dependencies that are built outside the engine.
type Options struct {
	// Backend reaches the audio server. Nil uses jack.NewBackend.
	Backend jack.Backend
	// Server tunes the server supervisor. OnEvent is set by the engine.
	Server jackd.Options
	// Capture holds the log console buffers, if log capture is installed.
	Capture *console.CaptureHandler
	// Metrics receives counters and is observed for gauges.
	Metrics *metrics.Metrics
	// Publisher receives events for the message bus.
	Publisher Publisher
	// EventLogPath is the JSONL event log. Empty disables the event log.
	EventLogPath string
	// Version reports build and update info for status responses.
	Version func() types.VersionInfo
}

// Engine orchestrates the audio stack.
type Engine struct {
	config    *config.Config
	driver    *jack.Driver
	server    *jackd.Supervisor
	health    *monitor.Health
	discovery *monitor.Discovery
	synth     *sclang.Supervisor
	meter     *audio.LevelMeter
	notifier  *notify.Notifier
	events    *Distributor
	eventLog  *eventlog.Logger
	capture   *console.CaptureHandler
	archive   *archive.Archiver
	observed  metric.Registration
	version   func() types.VersionInfo
	logger    *slog.Logger

	levels atomic.Pointer[[]types.ChannelLevel]

	// opMu serializes commands that change the audio stack.
	opMu sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every component from cfg.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	snap := cfg.Snapshot()

	backend := opts.Backend
	if backend == nil {
		backend = jack.NewBackend()
	}

	e := &Engine{
		config:   cfg,
		meter:    audio.NewLevelMeter(),
		notifier: notify.NewNotifier(cfg),
		capture:  opts.Capture,
		version:  opts.Version,
		logger:   slog.Default().With("component", "engine"),
	}
	e.levels.Store(&[]types.ChannelLevel{})

	if opts.EventLogPath != "" {
		l, err := eventlog.NewLogger(opts.EventLogPath)
		if err != nil {
			return nil, util.WrapError("open event log", err)
		}
		e.eventLog = l
	}

	if snap.HasArchive() {
		a, err := archive.New(archiveConfig(&snap))
		if err != nil {
			e.logger.Warn("archive disabled", "error", err)
		} else {
			e.archive = a
		}
	}

	e.events = NewDistributor(e.eventLog, e.notifier, opts.Publisher, opts.Metrics)
	e.driver = jack.New(backend)

	srvOpts := opts.Server
	srvOpts.OnEvent = e.onLifecycle
	e.server = jackd.New(backend, serverParams(&snap), srvOpts)

	e.health = monitor.NewHealth(e.driver, e.server, healthConfig(&snap), e.onLifecycle)
	e.discovery = monitor.NewDiscovery(e.driver, discoveryConfig(&snap), e.events.Client, e.events.Wire)
	e.synth = sclang.New(synthConfig(&snap), console.NewBuffer(snap.Synth.ConsoleLines), e.onSynthExit)

	if opts.Metrics != nil {
		m := opts.Metrics
		e.notifier.OnResult(func(channel string, err error) {
			m.RecordNotification(context.Background(), channel, err)
		})
		reg, err := m.Observe(e)
		if err != nil {
			return nil, util.WrapError("register metrics", err)
		}
		e.observed = reg
	}

	return e, nil
}

func serverParams(s *config.Snapshot) jackd.Params {
	return jackd.Params{
		SampleRate:  s.Jack.SampleRate,
		BufferSize:  s.Jack.BufferSize,
		Driver:      s.Jack.Driver,
		MIDIDriver:  s.Jack.MIDIDriver,
		Synchronous: s.Jack.Synchronous,
	}
}

func healthConfig(s *config.Snapshot) monitor.HealthConfig {
	return monitor.HealthConfig{
		Interval:        s.HealthInterval(),
		ClientName:      s.Jack.ClientName,
		PortBaseName:    s.Jack.PortBaseName,
		NumInputs:       s.Jack.NumInputs,
		NumOutputs:      s.Jack.NumOutputs,
		ServerPath:      s.Jack.ServerPath,
		AutoStartServer: s.Jack.AutoStartServer,
		AutoRecover:     s.Monitor.AutoRecover,
	}
}

func discoveryConfig(s *config.Snapshot) monitor.DiscoveryConfig {
	return monitor.DiscoveryConfig{
		Interval:         s.DiscoveryInterval(),
		AutoConnect:      s.Monitor.AutoConnect,
		AutoConnectDelay: s.AutoConnectDelay(),
		Ignored:          s.Monitor.IgnoredClients,
	}
}

func synthConfig(s *config.Snapshot) sclang.Config {
	return sclang.Config{
		InstallDir: s.Synth.InstallDir,
		Executable: s.Synth.Executable,
		ScriptPath: s.Synth.ScriptPath,
	}
}

func archiveConfig(s *config.Snapshot) archive.Config {
	return archive.Config{
		Endpoint:        s.Archive.Endpoint,
		Bucket:          s.Archive.Bucket,
		AccessKeyID:     s.Archive.AccessKeyID,
		SecretAccessKey: s.Archive.SecretAccessKey,
		Prefix:          s.Archive.Prefix,
	}
}

// Start brings the stack up: the audio server if allowed, the client and
// its ports, the monitors, and the synthesis server. Failures to reach the
// audio server are logged and left to the health monitor.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	snap := e.config.Snapshot()

	if snap.Jack.MinServerVersion != "" {
		if _, err := e.server.CheckVersion(ctx, snap.Jack.ServerPath, snap.Jack.MinServerVersion); err != nil {
			e.logger.Warn("could not determine audio server version", "error", err)
		}
	}

	if err := e.bringUp(ctx, &snap); err != nil {
		e.logger.Warn("audio client not connected at startup", "error", err)
	}
	e.startMonitors(&snap)

	if snap.Synth.Enabled {
		if err := e.startSynth(); err != nil {
			e.logger.Warn("synthesis server not started", "error", err)
		}
	}

	pump := snap.PumpInterval()
	e.wg.Go(func() { e.synth.Run(ctx, pump) })
	e.wg.Go(func() { e.runLevels(ctx) })

	e.logger.Info("engine started", "client", snap.Jack.ClientName, "connected", e.driver.IsConnected())
	return nil
}

// bringUp starts the server when it is down and allowed to, then connects.
func (e *Engine) bringUp(ctx context.Context, snap *config.Snapshot) error {
	if !e.server.IsServerRunning() {
		if !snap.Jack.AutoStartServer {
			return jack.ErrServerNotRunning
		}
		if err := e.server.StartServer(ctx, snap.Jack.ServerPath, snap.Jack.SampleRate, snap.Jack.BufferSize, snap.Jack.Driver); err != nil {
			return err
		}
	}
	err := e.connectAndRegister(snap)
	if isPartial(err) {
		return nil
	}
	return err
}

// connectAndRegister opens the client and registers the configured ports.
// A *jack.PortRegistrationError leaves the client connected.
func (e *Engine) connectAndRegister(snap *config.Snapshot) error {
	if err := e.driver.Connect(snap.Jack.ClientName); err != nil {
		return err
	}
	err := e.driver.RegisterAudioPorts(snap.Jack.NumInputs, snap.Jack.NumOutputs, snap.Jack.PortBaseName)
	e.meter.Reset()
	if err != nil {
		e.logger.Warn("port registration incomplete", "error", err)
	}
	return err
}

func isPartial(err error) bool {
	var regErr *jack.PortRegistrationError
	return errors.As(err, &regErr)
}

// runContext returns the context of the running engine, or nil.
func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

func (e *Engine) startMonitors(snap *config.Snapshot) {
	ctx := e.runContext()
	if ctx == nil {
		return
	}
	if snap.Monitor.HealthEnabled {
		e.health.Start(ctx)
	}
	if snap.Monitor.DiscoveryEnabled {
		e.discovery.Start(ctx)
	}
}

func (e *Engine) stopMonitors() {
	e.health.Stop()
	e.discovery.Stop()
}

// Stop shuts the stack down: monitors, synthesis server, client, and the
// audio server when configured to.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.ctx = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	snap := e.config.Snapshot()
	var errs []error

	e.stopMonitors()
	cancel()
	e.wg.Wait()

	if err := e.stopSynth(); err != nil {
		errs = append(errs, fmt.Errorf("stop synth: %w", err))
	}

	e.driver.Disconnect()
	e.meter.Reset()

	if snap.Jack.KillServerOnShutdown {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownKillTimeout)
		if err := e.server.KillServer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kill server: %w", err))
		}
		cancel()
	}

	e.notifier.Wait()

	if e.observed != nil {
		if err := e.observed.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregister metrics: %w", err))
		}
	}
	if e.eventLog != nil {
		if err := e.eventLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event log: %w", err))
		}
	}

	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// onLifecycle handles events from the health monitor and server supervisor.
func (e *Engine) onLifecycle(ev types.LifecycleEvent) {
	switch ev.Type {
	case types.EventUnexpectedShutdown:
		e.meter.Reset()
	case types.EventRecovered:
		// Ports are new after a reconnect; report and wire every client again.
		e.discovery.Reset()
	}
	e.events.Lifecycle(ev)
}

func (e *Engine) onSynthExit(msg string) {
	e.events.Synth(eventlog.SynthExited, types.ProcessStopped, msg)
}

func (e *Engine) runLevels(ctx context.Context) {
	ticker := time.NewTicker(levelInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.updateLevels(now)
		}
	}
}

func (e *Engine) updateLevels(now time.Time) {
	levels := e.meter.Update(e.driver.InputLevels(), now)
	e.levels.Store(&levels)
}

// --- Audio client ---

// ConnectClient opens the client, registers the configured ports, and
// starts the monitors.
func (e *Engine) ConnectClient() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	snap := e.config.Snapshot()
	err := e.connectAndRegister(&snap)
	if err == nil || isPartial(err) {
		e.discovery.Reset()
		e.startMonitors(&snap)
	}
	return err
}

// DisconnectClient stops the monitors and closes the client. The health
// monitor stays off so the client is not reconnected behind the caller.
func (e *Engine) DisconnectClient() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stopMonitors()
	e.driver.Disconnect()
	e.meter.Reset()
	e.discovery.Reset()
}

// RegisterPorts replaces the registered ports. A zero baseName uses the
// configured one.
func (e *Engine) RegisterPorts(numInputs, numOutputs int, baseName string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if baseName == "" {
		snap := e.config.Snapshot()
		baseName = snap.Jack.PortBaseName
	}
	err := e.driver.RegisterAudioPorts(numInputs, numOutputs, baseName)
	e.meter.Reset()
	return err
}

// UnregisterPorts removes every registered port.
func (e *Engine) UnregisterPorts() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.driver.UnregisterAllPorts()
	e.meter.Reset()
}

// ConnectPorts connects src to dst.
func (e *Engine) ConnectPorts(src, dst string) error {
	return e.driver.ConnectPorts(src, dst)
}

// DisconnectPorts disconnects src from dst.
func (e *Engine) DisconnectPorts(src, dst string) error {
	return e.driver.DisconnectPorts(src, dst)
}

// Ports lists port names matching pattern. direction is "input", "output",
// or empty for both.
func (e *Engine) Ports(pattern, direction string) ([]string, error) {
	var flags jack.PortFlags
	switch direction {
	case "":
	case "input":
		flags = jack.PortIsInput
	case "output":
		flags = jack.PortIsOutput
	default:
		return nil, ErrInvalidDirection
	}
	ports := e.driver.AvailablePorts(pattern, "", flags)
	if ports == nil {
		ports = []string{}
	}
	return ports, nil
}

// Connections lists the ports connected to the named port.
func (e *Engine) Connections(port string) []string {
	return e.driver.Connections(port)
}

// ServerInfo describes the connected server.
func (e *Engine) ServerInfo() jack.ServerInfo {
	return e.driver.ServerInfo()
}

// --- Audio server ---

// KillServer stops the monitors, closes the client, and kills every audio
// server process. The monitors stay off until the next StartServer or
// ConnectClient.
func (e *Engine) KillServer(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stopMonitors()
	e.driver.Disconnect()
	e.meter.Reset()
	e.discovery.Reset()
	return e.server.KillServer(ctx)
}

// StartServer starts the audio server with the configured parameters,
// restarting it if it is already running, then reconnects and restarts the
// monitors.
func (e *Engine) StartServer(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stopMonitors()
	e.driver.Disconnect()
	e.meter.Reset()
	e.discovery.Reset()

	snap := e.config.Snapshot()
	e.server.SetParams(serverParams(&snap))
	if err := e.server.EnsureServerRunning(ctx, snap.Jack.ServerPath); err != nil {
		return err
	}

	err := e.connectAndRegister(&snap)
	e.startMonitors(&snap)
	return err
}

// SetServerParams stores new launch parameters. They apply on the next
// StartServer.
func (e *Engine) SetServerParams(sampleRate, bufferSize int, driver string) error {
	if err := e.config.SetServerParams(sampleRate, bufferSize, driver); err != nil {
		return err
	}
	snap := e.config.Snapshot()
	e.server.SetParams(serverParams(&snap))
	return nil
}

// ServerVersion queries the installed server version.
func (e *Engine) ServerVersion(ctx context.Context) (string, error) {
	snap := e.config.Snapshot()
	return e.server.ServerVersion(ctx, snap.Jack.ServerPath)
}

// --- Monitors and clients ---

// UpdateMonitor applies and saves monitor settings, then restarts the
// monitors so new intervals take effect.
func (e *Engine) UpdateMonitor(u config.MonitorUpdate) error {
	if err := e.config.UpdateMonitor(u); err != nil {
		return err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	snap := e.config.Snapshot()
	e.stopMonitors()
	e.health.SetConfig(healthConfig(&snap))
	e.discovery.SetConfig(discoveryConfig(&snap))
	e.startMonitors(&snap)
	return nil
}

// MonitorStatus summarizes the monitors.
func (e *Engine) MonitorStatus() types.MonitorStatus {
	return types.MonitorStatus{
		HealthRunning:    e.health.Running(),
		DiscoveryRunning: e.discovery.Running(),
		AutoRecover:      e.health.AutoRecover(),
		AutoConnect:      e.discovery.AutoConnect(),
		PendingClients:   e.discovery.Pending(),
	}
}

// CheckHealth runs one health poll immediately.
func (e *Engine) CheckHealth(ctx context.Context) {
	e.health.Check(ctx)
}

// RefreshClients runs one discovery poll immediately.
func (e *Engine) RefreshClients(ctx context.Context) []types.ClientPorts {
	e.discovery.Check(ctx)
	return e.discovery.Clients()
}

// Clients returns the known external clients.
func (e *Engine) Clients() []types.ClientPorts {
	return e.discovery.Clients()
}

// AcceptClient wires a pending client.
func (e *Engine) AcceptClient(name string) ([]types.WireResult, error) {
	return e.discovery.Accept(name)
}

// RejectClient ignores a pending client for the rest of the session.
func (e *Engine) RejectClient(name string) error {
	if err := e.discovery.Reject(name); err != nil {
		return err
	}
	e.events.Rejected(name)
	return nil
}

// WireClient connects a client's outputs to free inputs now.
func (e *Engine) WireClient(name string) []types.WireResult {
	return e.discovery.Wire(name)
}

// --- Synthesis server ---

// StartSynth starts the synthesis server with the configured paths.
func (e *Engine) StartSynth() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.startSynth()
}

func (e *Engine) startSynth() error {
	if e.synth.IsRunning() {
		return nil
	}
	snap := e.config.Snapshot()
	e.synth.SetConfig(synthConfig(&snap))
	if err := e.synth.Start(); err != nil {
		return err
	}
	e.events.Synth(eventlog.SynthStarted, types.ProcessRunning, "")
	return nil
}

// StopSynth stops the synthesis server.
func (e *Engine) StopSynth() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.stopSynth()
}

func (e *Engine) stopSynth() error {
	if !e.synth.IsRunning() {
		return nil
	}
	err := e.synth.Stop()
	e.events.Synth(eventlog.SynthStopped, types.ProcessStopped, "")
	return err
}

// RestartSynth stops and starts the synthesis server.
func (e *Engine) RestartSynth() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.stopSynth(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return e.startSynth()
}

// SendSynth writes a line of code to the synthesis server.
func (e *Engine) SendSynth(line string) error {
	return e.synth.Send(line)
}

// SynthStatus summarizes the synthesis server.
func (e *Engine) SynthStatus() types.SynthStatus {
	return e.synth.Status()
}

// --- Consoles ---

// ConsoleSources returns the names accepted by Console.
func (e *Engine) ConsoleSources() []string {
	sources := []string{SourceSynth}
	if e.capture != nil {
		sources = append(sources, slices.Sorted(slices.Values(e.capture.Categories()))...)
	}
	return sources
}

func (e *Engine) consoleBuffer(source string) (*console.Buffer, error) {
	if source == "" || source == SourceSynth {
		return e.synth.Console(), nil
	}
	if e.capture != nil {
		if b := e.capture.Buffer(source); b != nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
}

// Console returns the last n lines of a console, or all lines if n <= 0.
func (e *Engine) Console(source string, n int) ([]string, error) {
	buf, err := e.consoleBuffer(source)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return buf.Lines(), nil
	}
	return buf.Tail(n), nil
}

// ClearConsole empties a console.
func (e *Engine) ClearConsole(source string) error {
	buf, err := e.consoleBuffer(source)
	if err != nil {
		return err
	}
	buf.Clear()
	return nil
}

// --- Events, notifications, archive ---

// Subscribe returns a channel of engine events and its cancel function.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.Subscribe()
}

// Events reads the event log newest first.
func (e *Engine) Events(n, offset int, filter string) ([]eventlog.Event, bool, error) {
	if e.eventLog == nil {
		return nil, false, ErrEventLogDisabled
	}
	f, err := eventlog.ParseFilter(filter)
	if err != nil {
		return nil, false, err
	}
	return eventlog.ReadLast(e.eventLog.Path(), n, offset, f)
}

// Notifier returns the alert notifier.
func (e *Engine) Notifier() *notify.Notifier {
	return e.notifier
}

// ArchiveTranscript uploads the synthesis console and returns the object key.
func (e *Engine) ArchiveTranscript(ctx context.Context) (string, error) {
	if e.archive == nil {
		return "", ErrArchiveDisabled
	}
	return e.archive.UploadTranscript(ctx, e.synth.Console().Lines(), time.Now())
}

// ArchiveEventLog uploads the event log and returns the object key.
func (e *Engine) ArchiveEventLog(ctx context.Context) (string, error) {
	if e.archive == nil {
		return "", ErrArchiveDisabled
	}
	if e.eventLog == nil {
		return "", ErrEventLogDisabled
	}
	return e.archive.UploadEventLog(ctx, e.eventLog.Path(), time.Now())
}

// TestArchive checks the archive credentials and bucket.
func (e *Engine) TestArchive(ctx context.Context) error {
	if e.archive == nil {
		return ErrArchiveDisabled
	}
	return e.archive.TestConnection(ctx)
}

// --- Status ---

// Status returns the full stack status.
func (e *Engine) Status() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:    "status",
		Jack:    e.driver.Status(),
		Server:  e.server.Status(),
		Synth:   e.synth.Status(),
		Monitor: e.MonitorStatus(),
		Clients: e.discovery.Clients(),
		Version: e.versionInfo(),
	}
}

func (e *Engine) versionInfo() types.VersionInfo {
	if e.version == nil {
		return types.VersionInfo{}
	}
	return e.version()
}

// Levels returns the latest metered input levels.
func (e *Engine) Levels() []types.ChannelLevel {
	return *e.levels.Load()
}

// Devices lists the audio devices available to the server.
func (e *Engine) Devices() []audio.Device {
	return audio.Devices()
}

// Performance implements metrics.Source.
func (e *Engine) Performance() types.PerformanceMetrics {
	return e.driver.Metrics()
}

// ConnectionState implements metrics.Source.
func (e *Engine) ConnectionState() types.ConnectionState {
	return e.driver.State()
}

// ServerState implements metrics.Source.
func (e *Engine) ServerState() types.ServerState {
	return e.server.State()
}

// SynthState implements metrics.Source.
func (e *Engine) SynthState() types.ProcessState {
	return e.synth.State()
}

// ClientCount implements metrics.Source.
func (e *Engine) ClientCount() int {
	return len(e.discovery.Clients())
}

var _ metrics.Source = (*Engine)(nil)
