// Package sclang supervises the SuperCollider interpreter that runs the
// spatialization server script, capturing its output into a console buffer.
package sclang

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contactlaplanque/akm-control/internal/console"
	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

var (
	// ErrSpawnFailed is returned when the interpreter could not be started.
	ErrSpawnFailed = errors.New("sclang spawn failed")
	// ErrNotRunning is returned by Send when no interpreter is running.
	ErrNotRunning = errors.New("sclang not running")
)

// quitCommand asks the interpreter to exit cleanly.
const quitCommand = "0.exit;\n"

// lineQueueSize bounds the lines buffered between the reader and Pump. When
// it is full the oldest queued line is dropped.
const lineQueueSize = 1024

// Prerequisite is a path required to start the interpreter.
type Prerequisite struct {
	Name string
	Path string
}

// PrerequisiteError lists required paths that do not exist.
type PrerequisiteError struct {
	Missing []Prerequisite
}

func (e *PrerequisiteError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("%s not found at %s", m.Name, m.Path)
	}
	return "sclang prerequisites missing: " + strings.Join(parts, "; ")
}

// Unwrap classifies missing prerequisites as a spawn failure.
func (e *PrerequisiteError) Unwrap() error {
	return ErrSpawnFailed
}

// Config locates the interpreter and the script it runs.
type Config struct {
	InstallDir string
	Executable string // relative to InstallDir unless absolute
	ScriptPath string
}

func (c Config) executablePath() string {
	if filepath.IsAbs(c.Executable) {
		return c.Executable
	}
	return filepath.Join(c.InstallDir, c.Executable)
}

// process is a running interpreter with its pipes. Its fields are set once
// at spawn; exitErr is valid after done is closed.
type process struct {
	cmd     *exec.Cmd
	stdin   *stdinPipe
	stdout  *os.File
	lines   chan string
	dropped atomic.Int64
	done    chan struct{}
	exitErr error
}

func (p *process) read() {
	defer close(p.lines)
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		p.enqueue(line)
	}
}

// enqueue queues line, evicting the oldest queued lines while the queue is
// full. The reader is the only sender.
func (p *process) enqueue(line string) {
	for {
		select {
		case p.lines <- line:
			return
		default:
		}
		select {
		case <-p.lines:
			p.dropped.Add(1)
		default:
		}
	}
}

// stdinPipe is the interpreter's stdin. Close may be called more than once.
type stdinPipe struct {
	io.WriteCloser
	once sync.Once
	err  error
}

func (s *stdinPipe) Close() error {
	s.once.Do(func() { s.err = s.WriteCloser.Close() })
	return s.err
}

// drain returns the queued lines without blocking.
func (p *process) drain() []string {
	var out []string
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return out
			}
			out = append(out, line)
		default:
			return out
		}
	}
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor starts, stops, and monitors the interpreter.
type Supervisor struct {
	console *console.Buffer
	logger  *slog.Logger
	onExit  func(msg string)

	mu        sync.Mutex
	cfg       Config
	state     types.ProcessState
	proc      *process
	startTime time.Time
	lastError string
}

// New creates a Supervisor writing interpreter output to buf. onExit, if
// non-nil, is called with the exit description when the interpreter exits
// on its own.
func New(cfg Config, buf *console.Buffer, onExit func(msg string)) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		console: buf,
		logger:  slog.Default().With("component", "sclang"),
		onExit:  onExit,
		state:   types.ProcessStopped,
	}
}

// SetConfig replaces the paths used by the next Start.
func (s *Supervisor) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Validate reports missing prerequisites for cfg.
func Validate(cfg Config) error {
	var missing []Prerequisite
	if info, err := os.Stat(cfg.InstallDir); err != nil || !info.IsDir() {
		missing = append(missing, Prerequisite{Name: "install directory", Path: cfg.InstallDir})
	} else if _, err := os.Stat(cfg.executablePath()); err != nil {
		missing = append(missing, Prerequisite{Name: "interpreter", Path: cfg.executablePath()})
	}
	if info, err := os.Stat(cfg.ScriptPath); err != nil || info.IsDir() {
		missing = append(missing, Prerequisite{Name: "server script", Path: cfg.ScriptPath})
	}
	if len(missing) > 0 {
		return &PrerequisiteError{Missing: missing}
	}
	return nil
}

// Start spawns the interpreter running the configured script. It is a
// no-op while already running.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return nil
	}

	cfg := s.cfg
	if err := Validate(cfg); err != nil {
		s.lastError = err.Error()
		s.logger.Error("cannot start sclang", "error", err)
		return err
	}

	s.state = types.ProcessStarting
	s.logger.Info("starting sclang", "install_dir", cfg.InstallDir, "script", cfg.ScriptPath)

	p, err := spawn(cfg)
	if err != nil {
		s.state = types.ProcessStopped
		s.lastError = err.Error()
		s.logger.Error("sclang spawn failed", "error", err)
		return err
	}

	s.proc = p
	s.state = types.ProcessRunning
	s.startTime = time.Now()
	s.lastError = ""
	s.logger.Info("sclang started", "pid", p.cmd.Process.Pid)
	return nil
}

func spawn(cfg Config) (*process, error) {
	cmd := exec.Command(cfg.executablePath(), cfg.ScriptPath)
	cmd.Dir = cfg.InstallDir

	// Wait closes pipes made by cmd.StdinPipe; these parent ends belong to teardown.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	cmd.Stdin = inR

	r, w, err := os.Pipe()
	if err != nil {
		util.SafeCloseFunc(inR, "sclang stdin reader")()
		util.SafeCloseFunc(inW, "sclang stdin")()
		return nil, fmt.Errorf("%w: output pipe: %w", ErrSpawnFailed, err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		util.SafeCloseFunc(inR, "sclang stdin reader")()
		util.SafeCloseFunc(inW, "sclang stdin")()
		util.SafeCloseFunc(r, "sclang output")()
		util.SafeCloseFunc(w, "sclang output writer")()
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	// The child holds its own copies of these ends.
	util.SafeCloseFunc(inR, "sclang stdin reader")()
	util.SafeCloseFunc(w, "sclang output writer")()

	p := &process{
		cmd:    cmd,
		stdin:  &stdinPipe{WriteCloser: inW},
		stdout: r,
		lines:  make(chan string, lineQueueSize),
		done:   make(chan struct{}),
	}
	go p.read()
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Stop asks the interpreter to exit, waits up to the shutdown timeout, then
// kills it. Pipes are closed and the handle reset in every case.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = types.ProcessStopping
	s.mu.Unlock()

	s.logger.Info("stopping sclang")

	if err := util.QuitViaStdin(p.stdin, quitCommand); err != nil {
		s.logger.Debug("quit via stdin failed", "error", err)
	}
	if err := util.GracefulSignal(p.cmd.Process); err != nil {
		s.logger.Debug("graceful signal failed", "error", err)
	}

	var stopErr error
	select {
	case <-p.done:
	case <-time.After(types.ShutdownTimeout):
		s.logger.Warn("sclang did not stop in time, forcing kill")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			stopErr = util.WrapError("kill sclang", err)
		}
		select {
		case <-p.done:
		case <-time.After(types.ShutdownTimeout):
			stopErr = errors.Join(stopErr, errors.New("sclang not reaped after kill"))
		}
	}

	s.appendLines(p.drain())
	s.teardown(p, "")
	s.logger.Info("sclang stopped")
	return stopErr
}

// Pump moves captured output into the console buffer without blocking and
// detects an interpreter that exited on its own.
func (s *Supervisor) Pump() {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return
	}

	s.appendLines(p.drain())
	if n := p.dropped.Swap(0); n > 0 {
		s.logger.Warn("sclang output dropped", "lines", n)
	}

	if !p.exited() {
		return
	}

	s.appendLines(p.drain())
	msg := exitMessage(p.exitErr)
	s.console.Append(msg)
	s.logger.Warn(msg)
	if s.teardown(p, msg) && s.onExit != nil {
		s.onExit(msg)
	}
}

// Run calls Pump every interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Pump()
		}
	}
}

// Send writes one line of code to the interpreter's stdin.
func (s *Supervisor) Send(line string) error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil || p.exited() {
		return ErrNotRunning
	}
	if _, err := io.WriteString(p.stdin, strings.TrimRight(line, "\n")+"\n"); err != nil {
		return util.WrapError("write to sclang", err)
	}
	s.logger.Debug("sent to sclang", "line", line)
	return nil
}

// teardown closes p's pipes and resets the handle if p is still current.
// It reports whether it did.
func (s *Supervisor) teardown(p *process, lastError string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p {
		return false
	}
	util.SafeCloseFunc(p.stdin, "sclang stdin")()
	util.SafeCloseFunc(p.stdout, "sclang output")()
	s.proc = nil
	s.state = types.ProcessStopped
	s.startTime = time.Time{}
	if lastError != "" {
		s.lastError = lastError
	}
	return true
}

func (s *Supervisor) appendLines(lines []string) {
	if len(lines) == 0 {
		return
	}
	s.console.Append(lines...)
	for _, l := range lines {
		s.logger.Debug("sclang output", "line", l)
	}
}

// exitMessage is the console sentinel written when the interpreter exits.
func exitMessage(err error) string {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return "sclang process exited (exit code 0)"
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		return fmt.Sprintf("sclang process exited (exit code %d)", exitErr.ExitCode())
	default:
		return fmt.Sprintf("sclang process exited (%v)", err)
	}
}

// State returns the interpreter state.
func (s *Supervisor) State() types.ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether an interpreter process is held.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Console returns the output buffer.
func (s *Supervisor) Console() *console.Buffer {
	return s.console
}

// Status summarizes the supervisor for status responses.
func (s *Supervisor) Status() types.SynthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SynthStatus{
		State:     s.state,
		Uptime:    util.Uptime(s.startTime),
		LastError: s.lastError,
		Lines:     s.console.Len(),
	}
}
