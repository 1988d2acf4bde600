// Package jackd supervises the external audio server process: finding,
// launching, verifying, and killing it.
package jackd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

var (
	// ErrServerUnreachable is returned when a launched server never became reachable.
	ErrServerUnreachable = errors.New("audio server launched but not reachable")
	// ErrExecutableNotFound is returned when the server path is missing or not executable.
	ErrExecutableNotFound = errors.New("audio server executable not found")
	// ErrSpawnFailed is returned when the server process could not be started.
	ErrSpawnFailed = errors.New("audio server spawn failed")
)

// probeClientName is the client name used for trial opens.
const probeClientName = "akm_probe"

// Prober performs trial opens against the audio server. jack.Backend satisfies it.
type Prober interface {
	Probe(clientName string) jack.ProbeResult
}

// Params are the launch parameters of the server.
type Params struct {
	SampleRate  int
	BufferSize  int
	Driver      string
	MIDIDriver  string
	Synchronous bool
}

// Args returns the command line arguments for p.
func (p Params) Args() []string {
	var args []string
	if p.Synchronous {
		args = append(args, "-S")
	}
	if p.MIDIDriver != "" {
		args = append(args, "-X", p.MIDIDriver)
	}
	return append(args,
		"-d", p.Driver,
		"-r", strconv.Itoa(p.SampleRate),
		"-p", strconv.Itoa(p.BufferSize),
	)
}

// Options tune the supervisor's timing and process control.
type Options struct {
	SettleDelay        time.Duration
	KillSettleDelay    time.Duration
	RestartSettleDelay time.Duration
	// KillAll terminates every server process by image name and reports
	// whether any was found.
	KillAll func(ctx context.Context) (bool, error)
	// OnEvent receives lifecycle events. It must not block.
	OnEvent func(types.LifecycleEvent)
}

// Supervisor manages the audio server process.
type Supervisor struct {
	prober Prober
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	params    Params
	state     types.ServerState
	path      string
	version   string
	lastError string
	cmd       *exec.Cmd
	done      chan struct{} // closed when cmd has been reaped
}

// New creates a Supervisor. Zero option fields take their defaults.
func New(prober Prober, params Params, opts Options) *Supervisor {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = types.ServerSettleDelay
	}
	if opts.KillSettleDelay == 0 {
		opts.KillSettleDelay = types.KillSettleDelay
	}
	if opts.RestartSettleDelay == 0 {
		opts.RestartSettleDelay = types.RestartSettleDelay
	}
	if opts.KillAll == nil {
		opts.KillAll = killAllServers
	}
	return &Supervisor{
		prober: prober,
		params: params,
		opts:   opts,
		logger: slog.Default().With("component", "jack"),
		state:  types.ServerNotRunning,
	}
}

// SetParams replaces the launch parameters used by EnsureServerRunning.
func (s *Supervisor) SetParams(p Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

// Params returns the configured launch parameters.
func (s *Supervisor) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// IsServerRunning performs a trial open. A probe that fails for any reason
// other than an unreachable server counts as running.
func (s *Supervisor) IsServerRunning() bool {
	running := s.prober.Probe(probeClientName) != jack.ProbeNotRunning

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case running && s.state == types.ServerNotRunning:
		s.state = types.ServerRunning
	case !running && s.state == types.ServerRunning:
		s.state = types.ServerNotRunning
	}
	return running
}

// KillServer terminates our own child, then every server process on the
// machine. Finding no process is not an error.
func (s *Supervisor) KillServer(ctx context.Context) error {
	hadChild := s.stopChild()

	found, err := s.opts.KillAll(ctx)
	if err != nil {
		s.setLastError(err)
		return util.WrapError("kill audio server", err)
	}

	s.mu.Lock()
	prev := s.state
	s.state = types.ServerNotRunning
	s.mu.Unlock()

	if !found && !hadChild {
		s.logger.Info("no audio server process to kill")
		return nil
	}

	s.logger.Info("audio server killed", "previous_state", prev)
	s.emit(types.EventServerKilled, "audio server killed")
	return sleepCtx(ctx, s.opts.KillSettleDelay)
}

// StartServer launches the server at path, waits for it to settle, and
// verifies it is reachable.
func (s *Supervisor) StartServer(ctx context.Context, path string, sampleRate, bufferSize int, driver string) error {
	if err := validateExecutable(path); err != nil {
		s.setLastError(err)
		return err
	}

	if s.stopChild() {
		s.logger.Info("stopped previously launched audio server")
	}

	s.mu.Lock()
	params := s.params
	params.SampleRate, params.BufferSize, params.Driver = sampleRate, bufferSize, driver
	s.state = types.ServerStarting
	s.path = path
	s.mu.Unlock()

	args := params.Args()
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = util.DetachedProcAttr()
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		s.mu.Lock()
		s.state = types.ServerNotRunning
		s.lastError = err.Error()
		s.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.mu.Unlock()
	go s.reap(cmd, stderr, done)

	s.logger.Info("audio server launched", "path", path, "pid", cmd.Process.Pid, "args", args)

	if err := sleepCtx(ctx, s.opts.SettleDelay); err != nil {
		s.stopChild()
		s.setState(types.ServerNotRunning)
		return err
	}

	if s.prober.Probe(probeClientName) == jack.ProbeNotRunning {
		s.stopChild()
		s.mu.Lock()
		s.state = types.ServerFailed
		s.lastError = ErrServerUnreachable.Error()
		s.mu.Unlock()
		s.logger.Error("audio server not reachable after launch", "path", path)
		return ErrServerUnreachable
	}

	s.mu.Lock()
	s.state = types.ServerRunning
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Info("audio server running", "sample_rate", sampleRate, "buffer_size", bufferSize, "driver", driver)
	s.emit(types.EventServerStarted, fmt.Sprintf("audio server started (%s, %d Hz, %d frames)", driver, sampleRate, bufferSize))
	return nil
}

// EnsureServerRunning starts the server with the configured parameters. A
// running server is killed first so that the parameters take effect.
func (s *Supervisor) EnsureServerRunning(ctx context.Context, path string) error {
	if s.IsServerRunning() {
		s.logger.Info("restarting audio server to apply configuration")
		if err := s.KillServer(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, s.opts.RestartSettleDelay); err != nil {
			return err
		}
	}

	p := s.Params()
	return s.StartServer(ctx, path, p.SampleRate, p.BufferSize, p.Driver)
}

// State returns the last known server state.
func (s *Supervisor) State() types.ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OwnsProcess reports whether the server was launched by this supervisor
// and is still alive.
func (s *Supervisor) OwnsProcess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Status summarizes the supervisor for status responses.
func (s *Supervisor) Status() types.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ServerStatus{
		State:     s.state,
		Path:      s.path,
		Version:   s.version,
		LastError: s.lastError,
	}
}

// reap waits for cmd to exit and records an unexpected exit.
func (s *Supervisor) reap(cmd *exec.Cmd, stderr *bytes.Buffer, done chan struct{}) {
	defer close(done)
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	s.cmd = nil
	s.done = nil
	unexpected := s.state == types.ServerRunning || s.state == types.ServerStarting
	if unexpected {
		s.state = types.ServerNotRunning
		s.lastError = util.ExtractLastError(stderr.String())
		if s.lastError == "" && err != nil {
			s.lastError = err.Error()
		}
	}
	lastError := s.lastError
	s.mu.Unlock()

	if unexpected {
		s.logger.Warn("audio server exited", "exit_code", util.ExitCode(err), "error", lastError)
		s.emit(types.EventStateChange, "audio server exited: "+lastError)
	}
}

// stopChild terminates the process we launched, if any, and reports whether
// there was one.
func (s *Supervisor) stopChild() bool {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	if cmd != nil {
		s.state = types.ServerNotRunning
		s.cmd = nil
		s.done = nil
	}
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false
	}

	if err := util.GracefulSignal(cmd.Process); err != nil {
		s.logger.Debug("graceful signal failed", "error", err)
	}

	select {
	case <-done:
		return true
	case <-time.After(types.ShutdownTimeout):
	}

	s.logger.Warn("audio server did not stop in time, forcing kill", "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("force kill failed", "error", err)
	}
	select {
	case <-done:
	case <-time.After(types.ShutdownTimeout):
		s.logger.Error("audio server process not reaped after kill", "pid", cmd.Process.Pid)
	}
	return true
}

// killAllServers runs the platform kill-by-image-name command.
func killAllServers(ctx context.Context) (bool, error) {
	out, err := killCommand(ctx).CombinedOutput()
	if err == nil {
		return true, nil
	}
	if util.ExitCode(err) == noProcessExitCode {
		return false, nil
	}
	if msg := util.ExtractLastError(string(out)); msg != "" {
		return false, fmt.Errorf("%w: %s", err, msg)
	}
	return false, err
}

func validateExecutable(path string) error {
	if err := util.ValidatePath("server path", path); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrExecutableNotFound, path)
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}
	return nil
}

func (s *Supervisor) setState(state types.ServerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (s *Supervisor) emit(kind types.LifecycleEventType, msg string) {
	if s.opts.OnEvent == nil {
		return
	}
	s.opts.OnEvent(types.LifecycleEvent{Type: kind, Message: msg, Time: time.Now()})
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
