package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const defaultDashboardURL = "http://localhost:3000"

// SlackNotifier posts Block Kit messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL   string
	dashboardURL string
	client       *http.Client
}

func NewSlackNotifier(webhookURL, dashboardURL string, timeout time.Duration) *SlackNotifier {
	if dashboardURL == "" {
		dashboardURL = defaultDashboardURL
	}
	return &SlackNotifier{
		webhookURL:   webhookURL,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(s.buildMessage(alert))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string       `json:"type"`
	Text   *slackText   `json:"text,omitempty"`
	Fields []*slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(text string) *slackText {
	return &slackText{Type: "mrkdwn", Text: text}
}

func (s *SlackNotifier) buildMessage(alert Alert) slackMessage {
	title := "⚠️ SudoMode Approval Required"

	return slackMessage{
		Text: fmt.Sprintf("%s: %s on %s", title, alert.Action, alert.Resource),
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
			{Type: "section", Fields: []*slackText{
				mrkdwn(fmt.Sprintf("*Resource:*\n`%s`", alert.Resource)),
				mrkdwn(fmt.Sprintf("*Action:*\n`%s`", alert.Action)),
				mrkdwn(fmt.Sprintf("*Amount:*\n%s", formatAmount(alert.Args["amount"]))),
				mrkdwn(fmt.Sprintf("*Request ID:*\n`%s`", alert.RequestID)),
			}},
			{Type: "section", Text: mrkdwn(fmt.Sprintf("*Reason:*\n%s", alert.Reason))},
			{Type: "section", Text: mrkdwn(fmt.Sprintf("*<%s/requests/%s|View in Dashboard>*", s.dashboardURL, alert.RequestID))},
			{Type: "divider"},
		},
	}
}

// formatAmount renders a numeric amount as $1,234.50. Anything else is
// shown as N/A.
func formatAmount(v any) string {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return "N/A"
		}
		f = parsed
	default:
		return "N/A"
	}

	if f < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -f)
	}
	return "$" + humanize.FormatFloat("#,###.##", f)
}
