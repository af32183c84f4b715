package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
)

type TelegramNotifier struct {
	enabled  bool
	botToken string
	chatID   string
	client   *resty.Client
}

func NewTelegramNotifier(enabled bool, botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &TelegramNotifier{
		enabled:  enabled,
		botToken: botToken,
		chatID:   chatID,
		client:   client,
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	if t == nil || !t.enabled {
		return nil
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(telegramSendMessageRequest{ChatID: t.chatID, Text: msg}).
		Post("/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return err
	}
	body := strings.TrimSpace(string(resp.Body()))
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("telegram status=%d body=%s", resp.StatusCode(), body)
	}
	if body == "" {
		return nil
	}
	var parsed telegramSendMessageResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil
	}
	if !parsed.OK {
		return fmt.Errorf("telegram api error: %s", strings.TrimSpace(parsed.Description))
	}
	return nil
}

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}
