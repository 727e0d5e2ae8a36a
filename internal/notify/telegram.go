package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers operational alerts. Calls are fire-and-forget; a
// delivery failure is logged and never propagated to the caller.
type Notifier interface {
	Notify(ctx context.Context, chatID, message string)
}

// TelegramNotifier sends messages through the Telegram bot API.
type TelegramNotifier struct {
	httpClient *http.Client
	botToken   string
	logger     zerolog.Logger
}

func NewTelegramNotifier(botToken string, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		botToken:   botToken,
		logger:     logger.With().Str("component", "telegram").Logger(),
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, chatID, message string) {
	if n.botToken == "" || chatID == "" {
		return
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    message,
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("marshal telegram message")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Msg("create telegram request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Msg("telegram delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn().Int("status", resp.StatusCode).Msg("telegram delivery rejected")
	}
}

// NoopNotifier discards all notifications.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) Notify(context.Context, string, string) {}
