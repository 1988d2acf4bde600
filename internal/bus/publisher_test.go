package bus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/types"
)

type publishedMsg struct {
	subject string
	data    []byte
}

type mockConn struct {
	mu        sync.Mutex
	msgs      []publishedMsg
	connected bool
	closed    bool
}

func newMockConn() *mockConn {
	return &mockConn{connected: true}
}

func (m *mockConn) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nats.ErrConnectionClosed
	}
	m.msgs = append(m.msgs, publishedMsg{subject: subject, data: data})
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestSubjects(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		parts  []string
		want   string
	}{
		{"prefixed", "akm", []string{"lifecycle", "recovered"}, "akm.lifecycle.recovered"},
		{"trimmed", ".studio.a.", []string{"wire"}, "studio.a.wire"},
		{"no_prefix", "", []string{"synth", "running"}, "synth.running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPublisher(newMockConn(), tt.prefix, "akMControl")
			assert.Equal(t, tt.want, p.Subject(tt.parts...))
		})
	}
}

func TestPublishLifecycle(t *testing.T) {
	conn := newMockConn()
	p := NewPublisher(conn, "akm", "akMControl")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.PublishLifecycle(types.LifecycleEvent{
		Type: types.EventUnexpectedShutdown,
		From: types.ConnConnected,
		To:   types.ConnFailed,
		Time: at,
	})

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "akm.lifecycle.unexpected_shutdown", conn.msgs[0].subject)

	env := decode(t, conn.msgs[0].data)
	assert.Equal(t, "unexpected_shutdown", env["kind"])
	assert.Equal(t, "akMControl", env["instance"])
	assert.Equal(t, "2026-03-01T12:00:00Z", env["time"])
	event := env["event"].(map[string]any)
	assert.Equal(t, "failed", event["to"])
}

func TestPublishClientAndWire(t *testing.T) {
	conn := newMockConn()
	p := NewPublisher(conn, "akm", "akMControl")

	p.PublishClient(types.ClientEvent{Type: types.ClientConnected, Client: "REAPER", Outputs: []string{"REAPER:out1"}})
	p.PublishWire("REAPER", []types.WireResult{{Source: "REAPER:out1", Destination: "akMControl:akm_in_1"}})
	p.PublishSynth(types.ProcessRunning, "")

	require.Len(t, conn.msgs, 3)
	assert.Equal(t, "akm.client.client_connected", conn.msgs[0].subject)
	assert.Equal(t, "akm.wire", conn.msgs[1].subject)
	assert.Equal(t, "akm.synth.running", conn.msgs[2].subject)

	wire := decode(t, conn.msgs[1].data)["event"].(map[string]any)
	assert.Equal(t, "REAPER", wire["client"])
	assert.Len(t, wire["results"], 1)

	published, failed := p.Stats()
	assert.Equal(t, int64(3), published)
	assert.Zero(t, failed)
}

func TestPublishAfterClose(t *testing.T) {
	conn := newMockConn()
	p := NewPublisher(conn, "akm", "akMControl")
	p.Close()
	assert.True(t, conn.closed)

	p.PublishSynth(types.ProcessStopped, "stopped")
	published, failed := p.Stats()
	assert.Zero(t, published)
	assert.Equal(t, int64(1), failed)
}
