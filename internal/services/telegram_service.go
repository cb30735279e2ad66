package services

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// OpsAlerter tells operators about work that exhausted its retries.
type OpsAlerter interface {
	NotifyDeliveryFailed(ctx context.Context, alert DeliveryAlert) error
	NotifySettlementExhausted(ctx context.Context, alert SettlementAlert) error
}

type DeliveryAlert struct {
	MerchantID string
	Event      string
	URL        string
	Attempts   int
	LastError  string
}

type SettlementAlert struct {
	Reference string
	Method    string
	Attempts  int
	LastError string
}

// TelegramService sends ops alerts to an admin chat. With no bot token or
// chat configured every call is a no-op.
type TelegramService struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string, logger *zap.Logger) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     "https://api.telegram.org",
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger.Named("telegram"),
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML message to the specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.logger.Debug("bot token not configured, skipping message")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("failed to send message", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("unexpected status", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

func (s *TelegramService) NotifyDeliveryFailed(ctx context.Context, a DeliveryAlert) error {
	message := fmt.Sprintf(`<b>Webhook delivery failed</b>
<b>Merchant:</b> %s
<b>Event:</b> %s
<b>URL:</b> %s
<b>Attempts:</b> %d
<b>Last error:</b> <code>%s</code>`,
		html.EscapeString(a.MerchantID),
		html.EscapeString(a.Event),
		html.EscapeString(a.URL),
		a.Attempts,
		html.EscapeString(truncate(a.LastError, 300)),
	)
	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

func (s *TelegramService) NotifySettlementExhausted(ctx context.Context, a SettlementAlert) error {
	message := fmt.Sprintf(`<b>Payment processing gave up</b>
<b>Payment:</b> %s
<b>Method:</b> %s
<b>Attempts:</b> %d
<b>Last error:</b> <code>%s</code>`,
		html.EscapeString(a.Reference),
		html.EscapeString(a.Method),
		a.Attempts,
		html.EscapeString(truncate(a.LastError, 300)),
	)
	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
