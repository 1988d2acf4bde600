//go:build !windows

package jackd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/types"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []types.LifecycleEventType
}

func (r *eventRecorder) record(ev types.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
}

func (r *eventRecorder) kinds() []types.LifecycleEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.LifecycleEventType(nil), r.events...)
}

type fakeKiller struct {
	mu    sync.Mutex
	calls int
	found bool
	err   error
}

func (k *fakeKiller) kill(context.Context) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	return k.found, k.err
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jackd")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestSupervisor(mb *jack.MockBackend, k *fakeKiller, rec *eventRecorder) *Supervisor {
	return New(mb, Params{SampleRate: 48000, BufferSize: 512, Driver: "dummy"}, Options{
		SettleDelay:        20 * time.Millisecond,
		KillSettleDelay:    time.Millisecond,
		RestartSettleDelay: time.Millisecond,
		KillAll:            k.kill,
		OnEvent:            rec.record,
	})
}

func TestIsServerRunning(t *testing.T) {
	mb := jack.NewMockBackend()
	s := newTestSupervisor(mb, &fakeKiller{}, &eventRecorder{})

	assert.True(t, s.IsServerRunning())
	assert.Equal(t, types.ServerRunning, s.State())

	mb.SetRunning(false)
	assert.False(t, s.IsServerRunning())
	assert.Equal(t, types.ServerNotRunning, s.State())

	mb.SetAmbiguousProbe(true)
	assert.True(t, s.IsServerRunning())
}

func TestStartServerMissingExecutable(t *testing.T) {
	s := newTestSupervisor(jack.NewMockBackend(), &fakeKiller{}, &eventRecorder{})

	err := s.StartServer(t.Context(), filepath.Join(t.TempDir(), "nope"), 48000, 512, "dummy")
	require.ErrorIs(t, err, ErrExecutableNotFound)
	assert.False(t, s.OwnsProcess())
	assert.Equal(t, types.ServerNotRunning, s.State())
	assert.NotEmpty(t, s.Status().LastError)

	err = s.StartServer(t.Context(), t.TempDir(), 48000, 512, "dummy")
	require.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestStartAndKillServer(t *testing.T) {
	mb := jack.NewMockBackend()
	k := &fakeKiller{}
	rec := &eventRecorder{}
	s := newTestSupervisor(mb, k, rec)
	path := writeScript(t, "exec sleep 30")

	require.NoError(t, s.StartServer(t.Context(), path, 44100, 256, "dummy"))
	assert.Equal(t, types.ServerRunning, s.State())
	assert.True(t, s.OwnsProcess())
	assert.Equal(t, path, s.Status().Path)

	require.NoError(t, s.KillServer(t.Context()))
	assert.Equal(t, types.ServerNotRunning, s.State())
	assert.False(t, s.OwnsProcess())
	assert.Equal(t, 1, k.calls)
	assert.Equal(t, []types.LifecycleEventType{types.EventServerStarted, types.EventServerKilled}, rec.kinds())
}

func TestStartServerReplacesOwnChild(t *testing.T) {
	s := newTestSupervisor(jack.NewMockBackend(), &fakeKiller{}, &eventRecorder{})
	path := writeScript(t, "exec sleep 30")

	require.NoError(t, s.StartServer(t.Context(), path, 48000, 512, "dummy"))
	s.mu.Lock()
	first, firstDone := s.cmd, s.done
	s.mu.Unlock()

	require.NoError(t, s.StartServer(t.Context(), path, 48000, 256, "dummy"))
	t.Cleanup(func() { _ = s.KillServer(context.Background()) })

	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first server process still alive")
	}
	s.mu.Lock()
	assert.NotSame(t, first, s.cmd)
	s.mu.Unlock()
	assert.True(t, s.OwnsProcess())
	assert.Equal(t, types.ServerRunning, s.State())
}

func TestStartServerUnreachable(t *testing.T) {
	mb := jack.NewMockBackend()
	mb.SetRunning(false)
	s := newTestSupervisor(mb, &fakeKiller{}, &eventRecorder{})

	err := s.StartServer(t.Context(), writeScript(t, "exec sleep 30"), 48000, 512, "dummy")
	require.ErrorIs(t, err, ErrServerUnreachable)
	assert.Equal(t, types.ServerFailed, s.State())
	assert.False(t, s.OwnsProcess())
}

func TestStartServerCancelled(t *testing.T) {
	s := New(jack.NewMockBackend(), Params{Driver: "dummy"}, Options{
		SettleDelay: time.Minute,
		KillAll:     (&fakeKiller{}).kill,
	})
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := s.StartServer(ctx, writeScript(t, "exec sleep 30"), 48000, 512, "dummy")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.OwnsProcess())
}

func TestKillServerWithNoServer(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(jack.NewMockBackend(), &fakeKiller{}, rec)

	require.NoError(t, s.KillServer(t.Context()))
	assert.Equal(t, types.ServerNotRunning, s.State())
	assert.Empty(t, rec.kinds())
}

func TestKillServerError(t *testing.T) {
	k := &fakeKiller{err: errors.New("permission denied")}
	s := newTestSupervisor(jack.NewMockBackend(), k, &eventRecorder{})

	err := s.KillServer(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kill audio server")
}

func TestEnsureServerRunningRestarts(t *testing.T) {
	mb := jack.NewMockBackend()
	k := &fakeKiller{found: true}
	s := newTestSupervisor(mb, k, &eventRecorder{})
	path := writeScript(t, "exec sleep 30")

	require.NoError(t, s.EnsureServerRunning(t.Context(), path))
	assert.Equal(t, 1, k.calls, "running server is killed before start")
	assert.True(t, s.OwnsProcess())

	require.NoError(t, s.KillServer(t.Context()))
}

func TestCrashDetected(t *testing.T) {
	rec := &eventRecorder{}
	s := newTestSupervisor(jack.NewMockBackend(), &fakeKiller{}, rec)

	require.NoError(t, s.StartServer(t.Context(), writeScript(t, "sleep 0.2; echo 'driver failed' >&2; exit 3"), 48000, 512, "dummy"))

	require.Eventually(t, func() bool { return !s.OwnsProcess() }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.ServerNotRunning, s.State())
	assert.Equal(t, "driver failed", s.Status().LastError)
	require.Eventually(t, func() bool {
		return slices.Contains(rec.kinds(), types.EventStateChange)
	}, time.Second, 10*time.Millisecond)
}

func TestServerVersion(t *testing.T) {
	s := newTestSupervisor(jack.NewMockBackend(), &fakeKiller{}, &eventRecorder{})
	path := writeScript(t, "echo 'jackdmp 1.9.21'; echo 'Copyright 2001-2005 Paul Davis'")

	v, err := s.ServerVersion(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "1.9.21", v)
	assert.Equal(t, "1.9.21", s.Status().Version)

	ok, err := s.CheckVersion(t.Context(), path, "1.9.22")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CheckVersion(t.Context(), path, "1.9")
	require.NoError(t, err)
	assert.True(t, ok)
}
