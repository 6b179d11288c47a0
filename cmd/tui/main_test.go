package main

import (
	"bufio"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sweepbot-go/internal/config"
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/signal"
)

func reader(lines ...string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func TestPromptFloatKeepsCurrentOnBadInput(t *testing.T) {
	r := reader("", "abc", "-5", "42.5")
	for i, want := range []float64{10, 10, 10, 42.5} {
		if got := promptFloat(r, "x", 10); got != want {
			t.Fatalf("prompt %d: expected %.2f, got %.2f", i, want, got)
		}
	}
}

func TestPromptList(t *testing.T) {
	got := promptList(reader("btc, eth ,,sol"), "Symbols", []string{"DOGE"})
	if strings.Join(got, ",") != "BTC,ETH,SOL" {
		t.Fatalf("unexpected list %v", got)
	}
	got = promptList(reader(""), "Symbols", []string{"DOGE"})
	if len(got) != 1 || got[0] != "DOGE" {
		t.Fatalf("expected current list kept, got %v", got)
	}
}

func TestEditRiskUpdatesPaperKnobs(t *testing.T) {
	cfg := &config.Config{}
	cfg.Paper.InitialBalanceUSD = 1000
	editRisk(reader("2500", "", "", "1.2", "", "70"), cfg)
	if cfg.Paper.InitialBalanceUSD != 2500 || cfg.Paper.TPPct != 1.2 || cfg.Paper.MinConfidencePct != 70 {
		t.Fatalf("unexpected paper settings %+v", cfg.Paper)
	}
}

func TestEffectiveDoesNotMutateFile(t *testing.T) {
	cfg := &config.Config{}
	cfg.Exchange.Symbols = []string{"btc"}
	eff := effective(cfg)
	if eff.Paper.TPPct != 0.6 || eff.Exchange.Symbols[0] != "BTC" {
		t.Fatalf("expected defaults on effective copy, got %+v", eff.Paper)
	}
	if cfg.Paper.TPPct != 0 || cfg.Exchange.Symbols[0] != "btc" {
		t.Fatalf("original config mutated: %+v", cfg)
	}
}

func TestSaveConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("SWEEPBOT_CONFIG", path)

	if err := saveConfig(&config.Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
	cfg := &config.Config{}
	cfg.Exchange.Symbols = []string{"BTC"}
	cfg.Paper.InitialBalanceUSD = 100
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("saveConfig returned error: %v", err)
	}
	if _, err := loadConfig(); err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
}

func TestFormatAccount(t *testing.T) {
	acct := paper.NewAccount(1000)
	acct.OpenPositions["ETH"] = paper.Position{ID: "POS_0001", Symbol: "ETH", Side: signal.Buy, EntryPrice: 3000, SizeUSD: 150, TPPrice: 3018, SLPrice: 2910}
	acct.Trades = []paper.Trade{{ID: "POS_0000", PnLUSD: 0.9}}
	acct.BalanceUSD = 850.9

	out := formatAccount(acct, time.Unix(0, 0))
	for _, want := range []string{"Balance: $850.90", "Realized P&L: $+0.90 (+0.09%)", "POS_0001 ETH: BUY @ $3000.00", "Closed trades: 1 (wins 1)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
