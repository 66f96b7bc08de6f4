// Package alerting pushes notifications when a basket's sentiment enters an
// extreme zone.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification captures one extreme-sentiment event.
type Notification struct {
	Basket string
	Bucket time.Time
	Score  int
	Zone   string // "extreme_fear" or "extreme_greed"
}

// Notifier delivers notifications to an external channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("basket", note.Basket).Str("zone", note.Zone).
		Int("score", note.Score).Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	label := "Extreme fear"
	if note.Zone == "extreme_greed" {
		label = "Extreme greed"
	}
	builder := strings.Builder{}
	builder.WriteString("[Sentiment Alert]\n")
	builder.WriteString(fmt.Sprintf("%s on %s\n", label, note.Basket))
	builder.WriteString(fmt.Sprintf("Score: %d\n", note.Score))
	builder.WriteString(fmt.Sprintf("Bucket: %s UTC\n", note.Bucket.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
