package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram posts HTML messages through the Bot API sendMessage method.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// TelegramOption configures the Telegram sink.
type TelegramOption func(*Telegram)

// WithTelegramBaseURL points the sink at an alternate Bot API host.
func WithTelegramBaseURL(url string) TelegramOption {
	return func(t *Telegram) {
		if url != "" {
			t.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithTelegramTimeout bounds each send.
func WithTelegramTimeout(d time.Duration) TelegramOption {
	return func(t *Telegram) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// NewTelegram returns nil when token or chat id is missing.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	if token == "" || chatID == "" {
		return nil
	}
	t := &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: defaultTelegramBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Telegram) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	text, err := telegramText(ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(telegramMessage{ChatID: t.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", stripURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send %s event: %w", ev.Kind(), stripURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}

// stripURL drops the request URL, which embeds the bot token, and keeps the underlying cause.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func telegramText(ev Event) (string, error) {
	var b strings.Builder
	switch e := ev.(type) {
	case OpenEvent:
		p := e.Position
		fmt.Fprintf(&b, "%s <b>NEW PAPER POSITION</b>\n\n", sideEmoji(p.Side))
		fmt.Fprintf(&b, "<b>%s</b> %s\n", html.EscapeString(p.Symbol), p.Side)
		fmt.Fprintf(&b, "💰 Entry: $%s\n", usd(p.EntryPrice))
		fmt.Fprintf(&b, "📊 Size: $%s\n", usd(p.SizeUSD))
		fmt.Fprintf(&b, "🎯 TP: $%s (+%s%%)\n", price(p.TPPrice), trimPct(e.TakeProfitPct))
		fmt.Fprintf(&b, "🛑 SL: $%s (-%s%%)\n", price(p.SLPrice), trimPct(e.StopLossPct))
		fmt.Fprintf(&b, "🎲 Confidence: %.0f%%\n", p.ConfidencePct)
		fmt.Fprintf(&b, "💡 %s\n\n", html.EscapeString(p.Reason))
	case CloseEvent:
		tr := e.Trade
		fmt.Fprintf(&b, "%s <b>POSITION CLOSED</b>\n\n", resultEmoji(tr.PnLUSD))
		fmt.Fprintf(&b, "<b>%s</b> %s\n", html.EscapeString(tr.Symbol), tr.Side)
		fmt.Fprintf(&b, "💰 Entry: $%s\n", usd(tr.EntryPrice))
		fmt.Fprintf(&b, "💰 Exit: $%s\n", usd(tr.ExitPrice))
		fmt.Fprintf(&b, "💵 P&amp;L: $%s (%+.2f%%)\n", usd(tr.PnLUSD), tr.PnLPct)
		fmt.Fprintf(&b, "📊 Size: $%s\n", usd(tr.SizeUSD))
		fmt.Fprintf(&b, "🎯 Reason: %s\n\n", tr.CloseReason)
	default:
		return "", fmt.Errorf("unsupported event %T", ev)
	}
	b.WriteString("<i>Paper Trading - Not Real Money</i>")
	return b.String(), nil
}
