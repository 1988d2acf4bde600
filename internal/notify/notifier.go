// Package notify delivers alerts about the audio stack over webhook, email,
// log file, and Zabbix.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// sendTimeout bounds one delivery on one channel, retries included.
const sendTimeout = 2 * time.Minute

// Channel names.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
	ChannelLog     = "log"
	ChannelZabbix  = "zabbix"
)

// Notifier turns lifecycle events into alerts. An outage alerts once per
// channel; a recovery is sent only on channels that alerted.
type Notifier struct {
	cfg *config.Config

	mu      sync.Mutex
	alerted map[string]bool

	graphMu     sync.Mutex
	graphCfg    GraphConfig
	graphClient *GraphClient

	inflight sync.WaitGroup

	// onResult, if set, is called after every alert delivery.
	onResult func(channel string, err error)
}

// NewNotifier returns a Notifier reading channel settings from cfg.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg, alerted: make(map[string]bool)}
}

// OnResult registers fn to be called after every alert delivery. Call it
// before the first event is handled.
func (n *Notifier) OnResult(fn func(channel string, err error)) {
	n.onResult = fn
}

// HandleLifecycle processes a lifecycle event.
func (n *Notifier) HandleLifecycle(ev types.LifecycleEvent) {
	kind := alertForEvent(ev.Type)
	if kind == "" {
		return
	}

	cfg := n.cfg.Snapshot()
	a := Alert{
		Kind:     kind,
		Instance: cfg.Jack.ClientName,
		Message:  ev.Message,
		From:     ev.From,
		To:       ev.To,
		Time:     ev.Time,
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}

	configured := configuredChannels(&cfg)

	n.mu.Lock()
	var targets []string
	if kind == KindRecovered {
		for _, ch := range configured {
			if n.alerted[ch] {
				targets = append(targets, ch)
			}
		}
		clear(n.alerted)
	} else {
		for _, ch := range configured {
			if !n.alerted[ch] {
				n.alerted[ch] = true
				targets = append(targets, ch)
			}
		}
	}
	n.mu.Unlock()

	n.dispatch(&cfg, a, targets)
}

// HandleSynthExit alerts that the synthesis server exited on its own.
func (n *Notifier) HandleSynthExit(message string) {
	cfg := n.cfg.Snapshot()
	n.dispatch(&cfg, Alert{
		Kind:     KindSynthExited,
		Instance: cfg.Jack.ClientName,
		Message:  message,
		Time:     time.Now(),
	}, configuredChannels(&cfg))
}

// Reset forgets which channels alerted for the current outage.
func (n *Notifier) Reset() {
	n.mu.Lock()
	clear(n.alerted)
	n.mu.Unlock()
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}

func configuredChannels(cfg *config.Snapshot) []string {
	var out []string
	if cfg.HasWebhook() {
		out = append(out, ChannelWebhook)
	}
	if cfg.HasGraph() {
		out = append(out, ChannelEmail)
	}
	if cfg.HasLogPath() {
		out = append(out, ChannelLog)
	}
	if cfg.HasZabbix() {
		out = append(out, ChannelZabbix)
	}
	return out
}

func (n *Notifier) dispatch(cfg *config.Snapshot, a Alert, channels []string) {
	for _, ch := range channels {
		send := n.sender(cfg, ch, a)
		n.inflight.Go(func() {
			err := util.LogNotifyResult(send, ch, a.Kind)
			if n.onResult != nil {
				n.onResult(ch, err)
			}
		})
	}
}

func (n *Notifier) sender(cfg *config.Snapshot, channel string, a Alert) func() error {
	switch channel {
	case ChannelWebhook:
		url := cfg.Notifications.Webhook.URL
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			return SendAlertWebhook(ctx, url, a)
		}
	case ChannelEmail:
		graphCfg := cfg.GraphConfig()
		return func() error {
			client, err := n.graphClientFor(graphCfg)
			if err != nil {
				return util.WrapError("create Graph client", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			return sendAlertEmail(ctx, client, &graphCfg, a)
		}
	case ChannelLog:
		path := cfg.Notifications.Log.Path
		return func() error { return LogAlert(path, a) }
	case ChannelZabbix:
		zcfg := cfg.ZabbixConfig()
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			return SendAlertZabbix(ctx, zcfg, a)
		}
	default:
		return func() error { return fmt.Errorf("unknown channel %q", channel) }
	}
}

// graphClientFor returns a cached client, rebuilding it when the settings change.
func (n *Notifier) graphClientFor(cfg GraphConfig) (*GraphClient, error) {
	n.graphMu.Lock()
	defer n.graphMu.Unlock()

	if n.graphClient != nil && n.graphCfg == cfg {
		return n.graphClient, nil
	}
	client, err := NewGraphClient(&cfg)
	if err != nil {
		return nil, err
	}
	n.graphCfg = cfg
	n.graphClient = client
	return client, nil
}

// TestWebhook sends a test webhook using the current settings.
func (n *Notifier) TestWebhook(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	return SendTestWebhook(ctx, cfg.Notifications.Webhook.URL, cfg.Jack.ClientName)
}

// TestEmail sends a test email using the current settings.
func (n *Notifier) TestEmail(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	graphCfg := cfg.GraphConfig()
	return SendTestEmail(ctx, &graphCfg, cfg.Jack.ClientName)
}

// TestLog writes a test entry using the current settings.
func (n *Notifier) TestLog() error {
	cfg := n.cfg.Snapshot()
	return WriteTestLog(cfg.Notifications.Log.Path, cfg.Jack.ClientName)
}

// TestZabbix sends a test value using the current settings.
func (n *Notifier) TestZabbix(ctx context.Context) error {
	cfg := n.cfg.Snapshot()
	return SendTestZabbix(ctx, cfg.ZabbixConfig())
}
