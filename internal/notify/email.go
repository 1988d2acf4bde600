package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// sendAlertEmail mails an alert using client.
func sendAlertEmail(ctx context.Context, client *GraphClient, cfg *GraphConfig, a Alert) error {
	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}
	if err := client.SendMail(ctx, recipients, a.Subject(), a.Body()); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, instance string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	a := Alert{
		Kind:     KindTest,
		Instance: instance,
		Message:  "Microsoft Graph configuration is working correctly.",
		Time:     time.Now(),
	}
	return sendAlertEmail(ctx, client, cfg, a)
}
