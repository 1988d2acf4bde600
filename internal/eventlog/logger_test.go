package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/types"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogAndReadBack(t *testing.T) {
	l := newTestLogger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.LogLifecycle(types.LifecycleEvent{
		Type: types.EventStateChange, From: types.ConnConnected, To: types.ConnFailed, Time: base,
	}))
	require.NoError(t, l.LogClient(types.ClientEvent{
		Type: types.ClientConnected, Client: "ableton", Outputs: []string{"ableton:out_1"}, Time: base.Add(time.Second),
	}))
	require.NoError(t, l.LogWire("ableton", []types.WireResult{{Source: "ableton:out_1", Destination: "akm:akm_in_1"}}))
	require.NoError(t, l.LogSynth(SynthExited, "sclang process exited (exit code 1)"))

	events, more, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 4)

	assert.Equal(t, SynthExited, events[0].Type)
	assert.Equal(t, ClientWired, events[1].Type)
	assert.Equal(t, "ableton", events[2].Client)
	assert.Equal(t, ServerStateChange, events[3].Type)
	assert.True(t, events[3].Timestamp.Equal(base))
}

func TestReadLastFilterAndPaging(t *testing.T) {
	l := newTestLogger(t)
	for i := range 5 {
		require.NoError(t, l.LogClient(types.ClientEvent{Type: types.ClientConnected, Client: string(rune('a' + i))}))
		require.NoError(t, l.LogLifecycle(types.LifecycleEvent{Type: types.EventRecovered}))
	}

	events, more, err := ReadLast(l.Path(), 2, 0, FilterClients)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, events, 2)
	assert.Equal(t, "e", events[0].Client)
	assert.Equal(t, "d", events[1].Client)

	events, more, err = ReadLast(l.Path(), 2, 4, FilterClients)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Client)

	events, _, err = ReadLast(l.Path(), 100, 0, FilterServer)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	events, _, err = ReadLast(l.Path(), 100, 0, FilterSynth)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadLastEdgeCases(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, more)

	events, _, err = ReadLast("ignored", 0, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)

	path := filepath.Join(t.TempDir(), "mixed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"type\":\"synth_started\"}\n"), 0o644))
	events, _, err = ReadLast(path, 10, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, SynthStarted, events[0].Type)
}

func TestLogAfterClose(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.LogSynth(SynthStarted, ""), os.ErrClosed)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("clients")
	require.NoError(t, err)
	assert.Equal(t, FilterClients, f)

	_, err = ParseFilter("stream")
	assert.ErrorIs(t, err, ErrUnknownFilter)
}
