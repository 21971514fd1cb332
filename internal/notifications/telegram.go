// Package notifications delivers per-user alerts through the Telegram
// Bot API. It satisfies the trading notifier contract so the engine
// can swap it in wherever a log-only notifier would go.
package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trader-engine/internal/logger"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramNotifier maps engine user IDs to Telegram chats and posts
// messages there. Users without a chat mapping fall back to the log;
// a trade must never fail because a notification could not be sent.
type TelegramNotifier struct {
	token   string
	chats   map[int64]string
	apiBase string
	client  *http.Client
	log     *logger.Logger
}

func NewTelegramNotifier(token string, chats map[int64]string, log *logger.Logger) *TelegramNotifier {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &TelegramNotifier{
		token:   token,
		chats:   chats,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// SetAPIBase overrides the Telegram endpoint. Tests point it at a
// local server.
func (t *TelegramNotifier) SetAPIBase(base string) { t.apiBase = base }

// Notify delivers the message to the user's chat. Delivery failures
// are logged, never propagated.
func (t *TelegramNotifier) Notify(userID int64, message string) {
	chatID, ok := t.chats[userID]
	if !ok {
		t.log.Info("notify user %d (no telegram chat): %s", userID, message)
		return
	}
	if err := t.send(chatID, message); err != nil {
		t.log.Error("telegram delivery to user %d failed: %v", userID, err)
		return
	}
	t.log.Debug("telegram delivered to user %d", userID)
}

func (t *TelegramNotifier) send(chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	data := url.Values{}
	data.Set("chat_id", chatID)
	data.Set("text", text)

	resp, err := t.client.Post(endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
