// Package eventlog records lifecycle, client, and synthesis events to a JSON
// lines file and reads them back newest first.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
)

// EventType represents the type of event.
type EventType string

// Server event types mirror the lifecycle events.
const (
	ServerStateChange        = EventType(types.EventStateChange)
	ServerUnexpectedShutdown = EventType(types.EventUnexpectedShutdown)
	ServerRecovered          = EventType(types.EventRecovered)
	ServerRecoveryFailed     = EventType(types.EventRecoveryFailed)
	ServerStarted            = EventType(types.EventServerStarted)
	ServerKilled             = EventType(types.EventServerKilled)
)

// Client event types.
const (
	ClientConnected    = EventType(types.ClientConnected)
	ClientDisconnected = EventType(types.ClientDisconnected)
	ClientWired        EventType = "client_wired"
	ClientRejected     EventType = "client_rejected"
)

// Synthesis server event types.
const (
	SynthStarted EventType = "synth_started"
	SynthStopped EventType = "synth_stopped"
	SynthExited  EventType = "synth_exited"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Client    string    `json:"client,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// StateDetails carries a connection state transition.
type StateDetails struct {
	From types.ConnectionState `json:"from,omitempty"`
	To   types.ConnectionState `json:"to,omitempty"`
}

// PortDetails carries the ports of a client or the outcome of wiring it.
type PortDetails struct {
	Inputs  []string           `json:"inputs,omitempty"`
	Outputs []string           `json:"outputs,omitempty"`
	Wired   []types.WireResult `json:"wired,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "akm-control", "logs", strconv.Itoa(port), "events.jsonl")
	default:
		return filepath.Join("/var/log/akm-control", strconv.Itoa(port), "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogLifecycle logs a connection or server lifecycle event.
func (l *Logger) LogLifecycle(ev types.LifecycleEvent) error {
	e := &Event{
		Timestamp: ev.Time,
		Type:      EventType(ev.Type),
		Message:   ev.Message,
	}
	if ev.From != "" || ev.To != "" {
		e.Details = &StateDetails{From: ev.From, To: ev.To}
	}
	return l.Log(e)
}

// LogClient logs a client arrival or departure.
func (l *Logger) LogClient(ev types.ClientEvent) error {
	e := &Event{
		Timestamp: ev.Time,
		Type:      EventType(ev.Type),
		Client:    ev.Client,
	}
	if len(ev.Inputs) > 0 || len(ev.Outputs) > 0 {
		e.Details = &PortDetails{Inputs: ev.Inputs, Outputs: ev.Outputs}
	}
	return l.Log(e)
}

// LogWire logs the outcome of wiring a client.
func (l *Logger) LogWire(client string, results []types.WireResult) error {
	return l.Log(&Event{
		Type:    ClientWired,
		Client:  client,
		Details: &PortDetails{Wired: results},
	})
}

// LogSynth logs a synthesis server event.
func (l *Logger) LogSynth(eventType EventType, message string) error {
	return l.Log(&Event{Type: eventType, Message: message})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterServer  TypeFilter = "server"
	FilterClients TypeFilter = "clients"
	FilterSynth   TypeFilter = "synth"
)

// ErrUnknownFilter is returned by ParseFilter for unrecognized names.
var ErrUnknownFilter = errors.New("unknown event filter")

// ParseFilter converts a filter name to a TypeFilter.
func ParseFilter(name string) (TypeFilter, error) {
	switch f := TypeFilter(name); f {
	case FilterAll, FilterServer, FilterClients, FilterSynth:
		return f, nil
	default:
		return FilterAll, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast returns up to n events after skipping offset matches, newest
// first, and whether older matching events remain. n is capped at
// MaxReadLimit. A missing file yields no events.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal(lines[i], &event); err != nil {
			continue
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterServer:
		return IsServerEvent(t)
	case FilterClients:
		return IsClientEvent(t)
	case FilterSynth:
		return IsSynthEvent(t)
	default:
		return true
	}
}

// IsServerEvent reports whether t is a connection or server lifecycle event.
func IsServerEvent(t EventType) bool {
	switch t {
	case ServerStateChange, ServerUnexpectedShutdown, ServerRecovered,
		ServerRecoveryFailed, ServerStarted, ServerKilled:
		return true
	}
	return false
}

// IsClientEvent reports whether t is a client discovery event.
func IsClientEvent(t EventType) bool {
	return t == ClientConnected || t == ClientDisconnected || t == ClientWired || t == ClientRejected
}

// IsSynthEvent reports whether t is a synthesis server event.
func IsSynthEvent(t EventType) bool {
	return t == SynthStarted || t == SynthStopped || t == SynthExited
}
