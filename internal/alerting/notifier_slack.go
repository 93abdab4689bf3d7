package alerting

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts AlertNotifications to a Slack channel. Grounded on
// the pack's pkg/slack Notifier: a bot-token client, IsEnabled() gating on
// token+channel presence, PostMessageContext with MsgOptionBlocks.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
}

// NewSlackNotifier builds a SlackNotifier. An empty botToken yields a
// disabled notifier rather than an error — alerting is best-effort.
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel}
}

func (n *SlackNotifier) IsEnabled() bool { return n.client != nil && n.channel != "" }
func (n *SlackNotifier) GetName() string { return "slack" }

func (n *SlackNotifier) SendNotification(ctx context.Context, notification Notification) error {
	if !n.IsEnabled() {
		return nil
	}

	text := fmt.Sprintf("%s %s: policy %s deny rate %.1f%% (threshold %.1f%%) over %ds — %d/%d denied",
		severityEmoji(notification.Severity), notification.Severity, notification.PolicyName,
		notification.CurrentDenyRate*100, notification.ThresholdPercentage, notification.WindowSeconds,
		notification.DeniedRequests, notification.TotalRequests,
	)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("posting alert to slack: %w", err)
	}
	return nil
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityCritical:
		return ":rotating_light:"
	case SeverityWarning:
		return ":warning:"
	default:
		return ":large_blue_circle:"
	}
}
