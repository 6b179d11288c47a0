package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/signal"
)

func openEvent() OpenEvent {
	return OpenEvent{
		Position: paper.Position{
			ID: "POS_0000", Symbol: "ETH", Side: signal.Buy, EntryPrice: 3000, SizeUSD: 150,
			TPPrice: 3018, SLPrice: 2910, ConfidencePct: 60, Reason: "Large liquidation: $60,000",
			OpenedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		TakeProfitPct: 0.6,
		StopLossPct:   3.0,
	}
}

func closeEvent(pnl float64) CloseEvent {
	return CloseEvent{Trade: paper.Trade{
		ID: "POS_0000", Symbol: "ETH", Side: signal.Buy, EntryPrice: 3000, ExitPrice: 3018, SizeUSD: 150,
		PnLPct: 0.6, PnLUSD: pnl, CloseReason: paper.TakeProfit,
		ClosedAt: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}}
}

func TestTelegramSendsHTMLMessage(t *testing.T) {
	var got telegramMessage
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tg := NewTelegram("TOKEN", "42", WithTelegramBaseURL(server.URL))
	require.NotNil(t, tg)
	require.NoError(t, tg.Notify(context.Background(), openEvent()))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, "<b>NEW PAPER POSITION</b>")
	assert.Contains(t, got.Text, "<b>ETH</b> BUY")
	assert.Contains(t, got.Text, "Entry: $3000.00")
	assert.Contains(t, got.Text, "TP: $3018.0000 (+0.6%)")
	assert.Contains(t, got.Text, "SL: $2910.0000 (-3%)")
	assert.Contains(t, got.Text, "Confidence: 60%")
}

func TestTelegramCloseMessage(t *testing.T) {
	text, err := telegramText(closeEvent(0.9))
	require.NoError(t, err)
	assert.Contains(t, text, "✅ <b>POSITION CLOSED</b>")
	assert.Contains(t, text, "Exit: $3018.00")
	assert.Contains(t, text, "P&amp;L: $0.90 (+0.60%)")
	assert.Contains(t, text, "Reason: TAKE_PROFIT")

	text, err = telegramText(closeEvent(-4.5))
	require.NoError(t, err)
	assert.Contains(t, text, "❌")
}

func TestTelegramRequiresCredentials(t *testing.T) {
	assert.Nil(t, NewTelegram("", "42"))
	assert.Nil(t, NewTelegram("TOKEN", ""))
}

func TestTelegramStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := NewTelegram("TOKEN", "42", WithTelegramBaseURL(server.URL)).Notify(context.Background(), openEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTelegramTransportErrorKeepsCauseWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	err := NewTelegram("SECRET-TOKEN", "42", WithTelegramBaseURL(base)).Notify(context.Background(), openEvent())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr), "dial failure should stay inspectable: %v", err)
}

func TestTelegramTimeoutIsReported(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	tg := NewTelegram("SECRET-TOKEN", "42", WithTelegramBaseURL(server.URL), WithTelegramTimeout(50*time.Millisecond))
	err := tg.Notify(context.Background(), openEvent())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
	assert.Contains(t, err.Error(), "Client.Timeout")
}

func TestDiscordPostsEmbed(t *testing.T) {
	var msg webhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDiscord(server.URL, time.Second)
	require.NoError(t, d.Notify(context.Background(), closeEvent(-4.5)))

	require.Len(t, msg.Embeds, 1)
	e := msg.Embeds[0]
	assert.Equal(t, "Position closed: ETH BUY", e.Title)
	assert.Equal(t, colorError, e.Color)
	assert.Equal(t, "2024-01-01T01:00:00Z", e.Timestamp)
	require.NotNil(t, e.Footer)
	assert.Equal(t, discordFooter, e.Footer.Text)

	fields := map[string]string{}
	for _, f := range e.Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "$-4.50 (+0.60%)", fields["P&L"])
}

func TestDiscordOpenEmbedColorsBySide(t *testing.T) {
	ev := openEvent()
	e, err := discordEmbed(ev)
	require.NoError(t, err)
	assert.Equal(t, colorSuccess, e.Color)

	ev.Position.Side = signal.Sell
	e, err = discordEmbed(ev)
	require.NoError(t, err)
	assert.Equal(t, colorError, e.Color)
	assert.Nil(t, NewDiscord("", 0))
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestMultiJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: boom}

	m := NewMulti(ok, nil, bad)
	assert.Equal(t, 2, m.Len())

	err := m.Notify(context.Background(), openEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())
}

func TestLogSinkWritesEvents(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))
	require.NoError(t, s.Notify(context.Background(), openEvent()))
	require.NoError(t, s.Notify(context.Background(), closeEvent(0.9)))

	out := buf.String()
	assert.Contains(t, out, `"event":"open"`)
	assert.Contains(t, out, `"event":"close"`)
	assert.Contains(t, out, `"pnl_usd":"0.90"`)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(sink, zerolog.Nop(), 8, time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), openEvent()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, 5, sink.count())

	assert.ErrorIs(t, d.Notify(context.Background(), openEvent()), ErrClosed)
	require.NoError(t, d.Close(ctx))
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Notify(ctx context.Context, _ Event) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(sink, zerolog.New(io.Discard), 1, 5*time.Second)

	require.NoError(t, d.Notify(context.Background(), openEvent()))
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never started")
	}
	require.NoError(t, d.Notify(context.Background(), openEvent()))
	assert.ErrorIs(t, d.Notify(context.Background(), openEvent()), ErrQueueFull)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(short), context.DeadlineExceeded)

	close(sink.release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, d.Close(ctx))
}
