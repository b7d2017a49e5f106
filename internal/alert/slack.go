package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert Payload) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	switch alert.Level {
	case LevelWarning:
		color = "#ffcc00"
	case LevelCritical:
		color = "#8b0000"
	}

	// The symbol leads the pretext; the remaining trade attributes render
	// as ordered attachment fields.
	pretext := fmt.Sprintf("[%s] %s", alert.Level, alert.Title)
	if symbol := alert.Symbol(); symbol != "" {
		pretext = fmt.Sprintf("[%s] %s: %s", alert.Level, symbol, alert.Title)
	}

	var fields []map[string]interface{}
	for _, f := range alert.OrderedFields() {
		if f.Key == "symbol" {
			continue
		}
		fields = append(fields, map[string]interface{}{
			"title": fieldTitle(f.Key),
			"value": f.Value,
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": pretext,
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "DCA Trader",
			},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook failed with status: %d", resp.StatusCode)
	}

	return nil
}
