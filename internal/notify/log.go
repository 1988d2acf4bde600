package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// AlertLogEntry is one line of the alert log file.
type AlertLogEntry struct {
	Timestamp string                `json:"timestamp"`
	Event     string                `json:"event"`
	Instance  string                `json:"instance,omitempty"`
	From      types.ConnectionState `json:"from,omitempty"`
	To        types.ConnectionState `json:"to,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// LogAlert appends an alert to the log file.
func LogAlert(logPath string, a Alert) error {
	return appendLogEntry(logPath, &AlertLogEntry{
		Timestamp: a.Time.UTC().Format(time.RFC3339),
		Event:     a.Kind,
		Instance:  a.Instance,
		From:      a.From,
		To:        a.To,
		Message:   a.Message,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath, instance string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &AlertLogEntry{
		Timestamp: timestampUTC(),
		Event:     KindTest,
		Instance:  instance,
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *AlertLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
