package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailNotifier sends AlertNotifications over SMTP. There is no SMTP
// library in the reference pack — net/smtp is the standard-library
// mechanism every Go SMTP client (including the libraries the pack does
// use for other transports) ultimately wraps, so this is the justified
// stdlib exception recorded in DESIGN.md.
type EmailNotifier struct {
	addr string // host:port
	from string
	to   []string
	auth smtp.Auth
}

// NewEmailNotifier builds an EmailNotifier. An empty addr or empty to list
// yields a disabled notifier.
func NewEmailNotifier(addr, from, user, password string, to []string) *EmailNotifier {
	var auth smtp.Auth
	if user != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &EmailNotifier{addr: addr, from: from, to: to, auth: auth}
}

func (n *EmailNotifier) IsEnabled() bool { return n.addr != "" && len(n.to) > 0 }
func (n *EmailNotifier) GetName() string { return "email" }

func (n *EmailNotifier) SendNotification(ctx context.Context, notification Notification) error {
	if !n.IsEnabled() {
		return nil
	}

	subject := fmt.Sprintf("[%s] %s deny-rate alert", notification.Severity, notification.PolicyName)
	body := fmt.Sprintf(
		"Rule: %s\nPolicy: %s\nDeny rate: %.1f%% (threshold %.1f%%)\nWindow: %ds\nRequests: %d total, %d denied\nTriggered at: %s\n",
		notification.RuleName, notification.PolicyName, notification.CurrentDenyRate*100, notification.ThresholdPercentage,
		notification.WindowSeconds, notification.TotalRequests, notification.DeniedRequests, notification.TriggeredAt.Format("2006-01-02T15:04:05Z07:00"),
	)

	msg := []byte("Subject: " + subject + "\r\n\r\n" + body)

	if err := smtp.SendMail(n.addr, n.auth, n.from, n.to, msg); err != nil {
		return fmt.Errorf("sending alert email: %w", err)
	}
	return nil
}
