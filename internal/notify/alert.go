package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
)

// Alert kinds delivered to notification channels.
const (
	KindUnexpectedShutdown = "unexpected_shutdown"
	KindRecoveryFailed     = "recovery_failed"
	KindRecovered          = "recovered"
	KindSynthExited        = "synth_exited"
	KindTest               = "test"
)

// Alert is a single notification, rendered per channel.
type Alert struct {
	Kind     string
	Instance string
	Message  string
	From     types.ConnectionState
	To       types.ConnectionState
	Time     time.Time
}

// severity returns the subject tag for the alert kind.
func (a Alert) severity() string {
	switch a.Kind {
	case KindRecovered:
		return "OK"
	case KindTest:
		return "TEST"
	default:
		return "ALERT"
	}
}

// title returns a short human-readable summary.
func (a Alert) title() string {
	switch a.Kind {
	case KindUnexpectedShutdown:
		return "Audio Server Shut Down"
	case KindRecoveryFailed:
		return "Audio Recovery Failed"
	case KindRecovered:
		return "Audio Connection Recovered"
	case KindSynthExited:
		return "Synthesis Server Exited"
	case KindTest:
		return "Test Notification"
	default:
		return a.Kind
	}
}

// Subject returns the email subject line.
func (a Alert) Subject() string {
	return fmt.Sprintf("[%s] %s - %s", a.severity(), a.title(), a.Instance)
}

// Body returns the plain-text email body.
func (a Alert) Body() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s on %s.\n\n", a.title(), a.Instance)
	if a.From != "" || a.To != "" {
		fmt.Fprintf(&sb, "State:   %s -> %s\n", a.From, a.To)
	}
	if a.Message != "" {
		fmt.Fprintf(&sb, "Details: %s\n", a.Message)
	}
	fmt.Fprintf(&sb, "Time:    %s", a.Time.Local().Format("2 Jan 2006 15:04:05 MST"))
	return sb.String()
}

// zabbixValue returns the trapper item value.
func (a Alert) zabbixValue() string {
	v := "event=" + strings.ToUpper(a.Kind)
	if a.To != "" {
		v += " state=" + string(a.To)
	}
	if a.Message != "" {
		v += fmt.Sprintf(" msg=%q", a.Message)
	}
	return v
}

// alertForEvent maps a lifecycle event to an alert kind, or "" if the event
// does not notify.
func alertForEvent(t types.LifecycleEventType) string {
	switch t {
	case types.EventUnexpectedShutdown:
		return KindUnexpectedShutdown
	case types.EventRecoveryFailed:
		return KindRecoveryFailed
	case types.EventRecovered:
		return KindRecovered
	default:
		return ""
	}
}
