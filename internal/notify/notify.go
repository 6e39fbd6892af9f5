// Package notify provides notification functionality for the trading application.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dart-trader/internal/config"
	"dart-trader/internal/models"
)

// Notifier defines the interface for sending trade notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	NotifyBuyStart(ctx context.Context, ev *models.ContractEvent, score int) error
	NotifyBuyExecuted(ctx context.Context, trade *models.TradeRecord) error
	NotifySellOrderPlaced(ctx context.Context, stockCode string, strategy models.SellStrategy) error
	NotifySellExecuted(ctx context.Context, stockCode string, fill models.SellFill) error
	NotifyCriticalError(ctx context.Context, title string, details map[string]string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade NotificationType = "trade"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// formatKRW formats a won amount with thousands separators.
func formatKRW(amount decimal.Decimal) string {
	s := amount.StringFixed(0)
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}
	var groups []string
	for len(s) > 3 {
		groups = append([]string{s[len(s)-3:]}, groups...)
		s = s[:len(s)-3]
	}
	groups = append([]string{s}, groups...)
	result := strings.Join(groups, ",") + " KRW"
	if negative {
		result = "-" + result
	}
	return result
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Slack.Enabled {
		mn.channels = append(mn.channels, NewSlackNotifier(cfg.Slack))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels. Channel failures are
// collected but never abort the trading flow.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NotifyBuyStart announces a scored disclosure that passed the buy gates.
func (mn *MultiNotifier) NotifyBuyStart(ctx context.Context, ev *models.ContractEvent, score int) error {
	title := fmt.Sprintf("🔔 Buy signal: %s", ev.StockName)
	message := fmt.Sprintf(
		"Stock: %s (%s)\nDisclosure: %s\nReceipt: %s\nScore: %d/10",
		ev.StockName, ev.StockCode, ev.ReportName, ev.ReceiptNo, score,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"stock_code": ev.StockCode,
			"receipt_no": ev.ReceiptNo,
			"score":      score,
		},
	})
}

// NotifyBuyExecuted announces a confirmed buy fill.
func (mn *MultiNotifier) NotifyBuyExecuted(ctx context.Context, trade *models.TradeRecord) error {
	title := fmt.Sprintf("✅ Buy executed: %s", trade.StockName)
	message := fmt.Sprintf(
		"Stock: %s (%s)\nQuantity: %d\nPrice: %s\nAmount: %s\nOrder: %s",
		trade.StockName, trade.StockCode, trade.Quantity,
		formatKRW(trade.ExecutedPrice), formatKRW(trade.BuyAmount), trade.BuyOrderNo,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"stock_code": trade.StockCode,
			"quantity":   trade.Quantity,
			"price":      trade.ExecutedPrice.String(),
			"order_no":   trade.BuyOrderNo,
		},
	})
}

// NotifySellOrderPlaced announces a sell decision and its order.
func (mn *MultiNotifier) NotifySellOrderPlaced(ctx context.Context, stockCode string, strategy models.SellStrategy) error {
	title := fmt.Sprintf("📤 Sell order placed: %s", stockCode)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Stock: %s\nType: %s\nReason: %s", stockCode, strategy.Action, strategy.Reason))
	if strategy.Action == models.SellActionLimit {
		sb.WriteString(fmt.Sprintf("\nTarget: %s", formatKRW(strategy.TargetPrice)))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"stock_code": stockCode,
			"action":     strategy.Action.String(),
			"reason":     strategy.Reason,
		},
	})
}

// NotifySellExecuted announces a confirmed sell fill.
func (mn *MultiNotifier) NotifySellExecuted(ctx context.Context, stockCode string, fill models.SellFill) error {
	emoji := "💰"
	if fill.ProfitRate.IsNegative() {
		emoji = "📉"
	}
	title := fmt.Sprintf("%s Sell executed: %s", emoji, stockCode)
	message := fmt.Sprintf(
		"Stock: %s\nQuantity: %d\nPrice: %s\nProfit rate: %s%%\nReason: %s",
		stockCode, fill.Quantity, formatKRW(fill.ExecutedPrice),
		fill.ProfitRate.Mul(decimal.NewFromInt(100)).StringFixed(2), fill.Reason,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"stock_code":  stockCode,
			"price":       fill.ExecutedPrice.String(),
			"profit_rate": fill.ProfitRate.String(),
			"reason":      fill.Reason,
		},
	})
}

// NotifyCriticalError sends an operator-facing failure report. The details
// map is forwarded verbatim so the channel shows exactly what the trading
// step recorded.
func (mn *MultiNotifier) NotifyCriticalError(ctx context.Context, title string, details map[string]string) error {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, details[k]))
	}
	sb.WriteString(fmt.Sprintf("Time: %s", time.Now().Format("15:04:05")))

	data := make(map[string]interface{}, len(details))
	for k, v := range details {
		data[k] = v
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "❌ " + title,
		Message: sb.String(),
		Data:    data,
	})
}

// SlackNotifier sends notifications via a Slack incoming webhook.
type SlackNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewSlackNotifier creates a new SlackNotifier.
func NewSlackNotifier(cfg config.SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		url:     cfg.WebhookURL,
		enabled: cfg.Enabled && cfg.WebhookURL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (s *SlackNotifier) Name() string {
	return "slack"
}

// IsEnabled returns whether the notifier is enabled.
func (s *SlackNotifier) IsEnabled() bool {
	return s.enabled
}

// Send posts the notification to the Slack webhook.
func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	if !s.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*\n%s", n.Title, n.Message),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Ensure MultiNotifier implements the Notifier interface.
var _ Notifier = (*MultiNotifier)(nil)
