//go:build !windows

package sclang

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/console"
	"github.com/contactlaplanque/akm-control/internal/types"
)

const echoInterpreter = `echo "compiling class library"
echo "loading $1"
while read line; do
  if [ "$line" = "0.exit;" ]; then
    echo "bye"
    exit 0
  fi
  echo "-> $line"
done`

func fakeInstall(t *testing.T, body string) Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sclang"), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	script := filepath.Join(t.TempDir(), "akM_spatServer.scd")
	require.NoError(t, os.WriteFile(script, []byte("s.boot;\n"), 0o644))
	return Config{InstallDir: dir, Executable: "sclang", ScriptPath: script}
}

func pumpUntil(t *testing.T, s *Supervisor, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.Pump()
		return slices.Contains(s.Console().Lines(), want)
	}, 5*time.Second, 10*time.Millisecond, "console never showed %q: %v", want, s.Console().Lines())
}

func TestStartPumpStop(t *testing.T) {
	cfg := fakeInstall(t, echoInterpreter)
	s := New(cfg, console.NewBuffer(100), nil)

	require.NoError(t, s.Start())
	assert.Equal(t, types.ProcessRunning, s.State())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	pumpUntil(t, s, "compiling class library")
	pumpUntil(t, s, "loading "+cfg.ScriptPath)

	require.NoError(t, s.Send("s.meter;"))
	pumpUntil(t, s, "-> s.meter;")

	require.NoError(t, s.Stop())
	assert.Equal(t, types.ProcessStopped, s.State())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Send("1+1;"), ErrNotRunning)
	require.NoError(t, s.Stop(), "stop without a process is a no-op")
}

func TestPumpDetectsExit(t *testing.T) {
	cfg := fakeInstall(t, `echo "boom"; exit 3`)

	var mu sync.Mutex
	var exits []string
	s := New(cfg, console.NewBuffer(100), func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		exits = append(exits, msg)
	})

	require.NoError(t, s.Start())
	pumpUntil(t, s, "sclang process exited (exit code 3)")

	assert.Contains(t, s.Console().Lines(), "boom")
	assert.Equal(t, types.ProcessStopped, s.State())
	assert.False(t, s.IsRunning())

	st := s.Status()
	assert.Equal(t, "sclang process exited (exit code 3)", st.LastError)
	assert.Empty(t, st.Uptime)

	mu.Lock()
	assert.Equal(t, []string{"sclang process exited (exit code 3)"}, exits)
	mu.Unlock()

	// Later pumps do nothing.
	n := s.Console().Len()
	s.Pump()
	assert.Equal(t, n, s.Console().Len())
}

func TestStartMissingPrerequisites(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{
		InstallDir: filepath.Join(dir, "SuperCollider"),
		Executable: "sclang",
		ScriptPath: filepath.Join(dir, "missing.scd"),
	}, console.NewBuffer(10), nil)

	err := s.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)

	var pe *PrerequisiteError
	require.True(t, errors.As(err, &pe))
	require.Len(t, pe.Missing, 2)
	assert.Equal(t, "install directory", pe.Missing[0].Name)
	assert.Equal(t, "server script", pe.Missing[1].Name)

	assert.Equal(t, types.ProcessStopped, s.State())
	assert.False(t, s.IsRunning())
	assert.Equal(t, err.Error(), s.Status().LastError)
}

func TestValidateMissingInterpreter(t *testing.T) {
	cfg := fakeInstall(t, "exit 0")
	cfg.Executable = "scsynth"

	var pe *PrerequisiteError
	require.True(t, errors.As(Validate(cfg), &pe))
	require.Len(t, pe.Missing, 1)
	assert.Equal(t, filepath.Join(cfg.InstallDir, "scsynth"), pe.Missing[0].Path)
}

func TestSetConfigAppliesOnNextStart(t *testing.T) {
	s := New(Config{}, console.NewBuffer(10), nil)
	require.Error(t, s.Start())

	s.SetConfig(fakeInstall(t, echoInterpreter))
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	assert.Empty(t, s.Status().LastError)
}

func TestExitMessage(t *testing.T) {
	assert.Equal(t, "sclang process exited (exit code 0)", exitMessage(nil))
	assert.Equal(t, "sclang process exited (pipe broke)", exitMessage(errors.New("pipe broke")))
}

func TestPumpKeepsNewestLinesOnBurst(t *testing.T) {
	const total = 2000
	cfg := fakeInstall(t, fmt.Sprintf(`i=1
while [ $i -le %d ]; do
  echo "line $i"
  i=$((i+1))
done
echo "done"
read line`, total))
	s := New(cfg, console.NewBuffer(500), nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	require.Eventually(t, func() bool {
		return p.dropped.Load() == total+1-lineQueueSize && len(p.lines) == lineQueueSize
	}, 5*time.Second, 5*time.Millisecond)

	s.Pump()

	lines := s.Console().Lines()
	require.Len(t, lines, 500)
	assert.Equal(t, "line 1502", lines[0])
	assert.Equal(t, "line 2000", lines[498])
	assert.Equal(t, "done", lines[499])
}

func TestEnqueueEvictsOldest(t *testing.T) {
	p := &process{lines: make(chan string, 2)}
	for _, l := range []string{"a", "b", "c", "d"} {
		p.enqueue(l)
	}
	assert.Equal(t, []string{"c", "d"}, p.drain())
	assert.Equal(t, int64(2), p.dropped.Load())
}

type closeRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *closeRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *closeRecorder) WithAttrs([]slog.Attr) slog.Handler      { return r }
func (r *closeRecorder) WithGroup(string) slog.Handler           { return r }
func (r *closeRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, rec.Message)
	return nil
}

func TestStopClosesPipesOnce(t *testing.T) {
	rec := &closeRecorder{}
	prev := slog.Default()
	slog.SetDefault(slog.New(rec))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := New(fakeInstall(t, echoInterpreter), console.NewBuffer(100), nil)
	require.NoError(t, s.Start())
	pumpUntil(t, s, "compiling class library")
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotContains(t, rec.msgs, "close failed")
}
