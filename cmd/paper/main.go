package main

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"

	"sweepbot-go/internal/config"
	"sweepbot-go/internal/engine"
	"sweepbot-go/internal/exchange"
	"sweepbot-go/internal/metrics"
	"sweepbot-go/internal/notify"
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/risk"
	"sweepbot-go/internal/store"
	"sweepbot-go/internal/strategy"
	"sweepbot-go/internal/util"
)

func main() {
	log := util.NewLogger("info")

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.LoggerFor(cfg.App.LogFormat, cfg.App.LogLevel).With().Str("app", cfg.App.Name).Logger()

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	feed := exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Symbols, log,
		exchange.WithBaseURL(cfg.Exchange.BaseURL),
		exchange.WithWSURL(cfg.Exchange.WSURL),
		exchange.WithTimeout(cfg.Exchange.Timeout()),
		exchange.WithStaleAfter(cfg.Exchange.StaleAfter()),
	)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()
	flow := exchange.NewSweepSource(cfg.Flow.URL, log, exchange.WithSweepTimeout(cfg.Flow.Timeout()))

	gen := strategy.Build(cfg.Strategy.Mode, strategy.Params{
		Symbols:              cfg.Exchange.Symbols,
		LiquidationThreshold: cfg.Strategy.LiquidationThresholdUSD,
		WhaleThreshold:       cfg.Strategy.WhaleThresholdUSD,
		SizeFloor:            cfg.Strategy.SizeFloor,
		MaxPositionUSD:       cfg.Paper.MaxPositionUSD,
	})

	st := store.NewFileStore(cfg.Paper.StatePath, cfg.Paper.InitialBalanceUSD, log)
	account := engine.Bootstrap(st, cfg.Paper.InitialBalanceUSD, log)

	var opts []paper.Option
	if cfg.Paper.TradesPath != "" {
		journal, err := paper.NewJSONLRecorder(cfg.Paper.TradesPath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Paper.TradesPath).Msg("open trade journal")
		}
		defer journal.Close()
		opts = append(opts, paper.WithRecorder(journal))
	}
	manager := paper.NewManager(account, paper.Params{
		TakeProfitPct: cfg.Paper.TPPct,
		StopLossPct:   cfg.Paper.SLPct,
		Limits: risk.Limits{
			MinConfidencePct: cfg.Paper.MinConfidencePct,
			MinSizeUSD:       cfg.Paper.MinPositionUSD,
		},
	}, log, opts...)

	var channels []notify.Sink
	if tg := notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID,
		notify.WithTelegramBaseURL(cfg.Notify.Telegram.BaseURL),
		notify.WithTelegramTimeout(cfg.Notify.Timeout())); tg != nil {
		channels = append(channels, tg)
	}
	if dc := notify.NewDiscord(cfg.Notify.Discord.WebhookURL, cfg.Notify.Timeout()); dc != nil {
		channels = append(channels, dc)
	}
	multi := notify.NewMulti(channels...)
	var sink notify.Sink = multi
	if multi.Len() == 0 {
		log.Info().Msg("no notification channel configured, logging events only")
		sink = notify.NewLogSink(log)
	}
	dispatcher := notify.NewDispatcher(sink, log, cfg.Notify.QueueSize, cfg.Notify.Timeout())

	eng := engine.New(manager, gen, feed, flow, st, log,
		engine.WithInterval(cfg.App.CycleInterval()),
		engine.WithRetryDelay(cfg.App.RetryDelay()),
		engine.WithNotifier(dispatcher),
	)

	hup := make(chan os.Signal, 1)
	ossignal.Notify(hup, syscall.SIGHUP)
	defer ossignal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info().Str("state", st.Path()).Msg("reload requested")
				eng.RequestReload()
			}
		}
	}()
	log.Info().
		Str("provider", feed.Provider()).
		Str("strategy", gen.Name()).
		Str("state", st.Path()).
		Float64("balance", manager.Balance()).
		Msg("paper trading with real market data")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped")
	}
}
