package util

import "log/slog"

// LogNotifyResult executes a notification function, logs the result, and
// returns the function's error.
func LogNotifyResult(fn func() error, channel, event string) error {
	if err := fn(); err != nil {
		slog.Error("notification failed", "channel", channel, "event", event, "error", err)
		return err
	}
	slog.Info("notification sent", "channel", channel, "event", event)
	return nil
}
