package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sweepbot-go/internal/signal"
)

const (
	colorSuccess = 0x00FF00
	colorError   = 0xFF0000
	colorInfo    = 0x0099FF
)

const discordFooter = "Paper Trading - Not Real Money"

type webhookMessage struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func newEmbed() *embed { return &embed{} }

func (e *embed) setTitle(title string) *embed {
	e.Title = title
	return e
}

func (e *embed) setDescription(desc string) *embed {
	e.Description = desc
	return e
}

func (e *embed) setColor(color int) *embed {
	e.Color = color
	return e
}

func (e *embed) addField(name, value string, inline bool) *embed {
	e.Fields = append(e.Fields, embedField{Name: name, Value: value, Inline: inline})
	return e
}

func (e *embed) setFooter(text string) *embed {
	e.Footer = &embedFooter{Text: text}
	return e
}

func (e *embed) setTimestamp(t time.Time) *embed {
	e.Timestamp = t.UTC().Format(time.RFC3339)
	return e
}

// Discord posts embeds to a channel webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord returns nil when no webhook is configured.
func NewDiscord(webhookURL string, timeout time.Duration) *Discord {
	if webhookURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discord{webhookURL: webhookURL, client: &http.Client{Timeout: timeout}}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, ev Event) error {
	e, err := discordEmbed(ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(webhookMessage{Embeds: []embed{*e}})
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord send failed for %s event", ev.Kind())
	}
	defer resp.Body.Close()
	// webhooks answer 204 unless ?wait=true
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord status %d", resp.StatusCode)
	}
	return nil
}

func discordEmbed(ev Event) (*embed, error) {
	switch e := ev.(type) {
	case OpenEvent:
		p := e.Position
		color := colorSuccess
		if p.Side == signal.Sell {
			color = colorError
		}
		return newEmbed().
			setTitle(fmt.Sprintf("New paper position: %s %s", p.Symbol, p.Side)).
			setDescription(p.Reason).
			setColor(color).
			addField("Entry", "$"+usd(p.EntryPrice), true).
			addField("Size", "$"+usd(p.SizeUSD), true).
			addField("Confidence", fmt.Sprintf("%.0f%%", p.ConfidencePct), true).
			addField("Take profit", fmt.Sprintf("$%s (+%s%%)", price(p.TPPrice), trimPct(e.TakeProfitPct)), true).
			addField("Stop loss", fmt.Sprintf("$%s (-%s%%)", price(p.SLPrice), trimPct(e.StopLossPct)), true).
			setFooter(discordFooter).
			setTimestamp(p.OpenedAt), nil
	case CloseEvent:
		tr := e.Trade
		color := colorInfo
		switch {
		case tr.PnLUSD > 0:
			color = colorSuccess
		case tr.PnLUSD < 0:
			color = colorError
		}
		return newEmbed().
			setTitle(fmt.Sprintf("Position closed: %s %s", tr.Symbol, tr.Side)).
			setDescription(string(tr.CloseReason)).
			setColor(color).
			addField("Entry", "$"+usd(tr.EntryPrice), true).
			addField("Exit", "$"+usd(tr.ExitPrice), true).
			addField("P&L", fmt.Sprintf("$%s (%+.2f%%)", usd(tr.PnLUSD), tr.PnLPct), true).
			addField("Size", "$"+usd(tr.SizeUSD), true).
			setFooter(discordFooter).
			setTimestamp(tr.ClosedAt), nil
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}
