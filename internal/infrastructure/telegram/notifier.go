package telegram

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"NewsDigest/internal/ports"
)

// Notifier sends run summaries to a Telegram chat via bot API.
type Notifier struct {
	bot
	chatID string
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		bot:    newBot(botToken, 5*time.Second),
		chatID: chatID,
	}
}

// Notify posts a plain text message.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message)
	form.Set("disable_web_page_preview", "true")

	_, err := n.call(ctx, "sendMessage", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	return err
}
