package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier POSTs a JSON payload to an arbitrary URL, HMAC-signing
// the body so the receiver can verify authenticity. Grounded on the
// teacher's observability/pagerduty.go PagerDutyClient: a dedicated
// *http.Client with a fixed timeout, JSON body, checked status code.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier. An empty url yields a
// disabled notifier.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) IsEnabled() bool { return n.url != "" }
func (n *WebhookNotifier) GetName() string { return "webhook" }

type webhookPayload struct {
	RuleID              string    `json:"ruleId"`
	RuleName            string    `json:"ruleName"`
	PolicyID            string    `json:"policyId"`
	PolicyName          string    `json:"policyName"`
	CurrentDenyRate     float64   `json:"currentDenyRate"`
	ThresholdPercentage float64   `json:"thresholdPercentage"`
	WindowSeconds       int       `json:"windowSeconds"`
	TotalRequests       int64     `json:"totalRequests"`
	DeniedRequests      int64     `json:"deniedRequests"`
	TriggeredAt         time.Time `json:"triggeredAt"`
	Severity            string    `json:"severity"`
}

func (n *WebhookNotifier) SendNotification(ctx context.Context, notification Notification) error {
	if !n.IsEnabled() {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		RuleID:              notification.RuleID.String(),
		RuleName:            notification.RuleName,
		PolicyID:            notification.PolicyID.String(),
		PolicyName:          notification.PolicyName,
		CurrentDenyRate:     notification.CurrentDenyRate,
		ThresholdPercentage: notification.ThresholdPercentage,
		WindowSeconds:       notification.WindowSeconds,
		TotalRequests:       notification.TotalRequests,
		DeniedRequests:      notification.DeniedRequests,
		TriggeredAt:         notification.TriggeredAt,
		Severity:            string(notification.Severity),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Ratesentry-Signature", signPayload(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
