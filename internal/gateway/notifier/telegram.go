package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	sendRetries     = 3
)

// Telegram 把关键事件推送到配置的群或频道。
// 推送属尽力而为：失败带退避重试，最终错误交由调用方记日志。
type Telegram struct {
	apiBase   string
	token     string
	chatID    string
	client    *http.Client
	retryWait time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		apiBase:   telegramAPIBase,
		token:     botToken,
		chatID:    chatID,
		client:    &http.Client{Timeout: 15 * time.Second},
		retryWait: time.Second,
	}
}

type sendMessageReq struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendText 以 Markdown 形式发送一条文本消息。
func (t *Telegram) SendText(text string) error {
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram 的 bot_token 或 chat_id 未配置")
	}
	body, err := json.Marshal(sendMessageReq{ChatID: t.chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		if lastErr = t.post(endpoint, body); lastErr == nil {
			return nil
		}
		if attempt < sendRetries {
			time.Sleep(time.Duration(attempt) * t.retryWait)
		}
	}
	return fmt.Errorf("telegram 推送连续 %d 次失败: %w", sendRetries, lastErr)
}

func (t *Telegram) post(endpoint string, body []byte) error {
	resp, err := t.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram 返回 %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return nil
}
