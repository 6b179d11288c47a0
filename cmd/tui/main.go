package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sweepbot-go/internal/config"
	"sweepbot-go/internal/paper"
	"sweepbot-go/internal/store"
)

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== SweepBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Show paper account")
		fmt.Println("3) Edit bankroll and risk knobs")
		fmt.Println("4) Edit strategy settings")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch paper bot")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			printAccount(cfg)
		case "3":
			editRisk(reader, cfg)
		case "4":
			editStrategy(reader, cfg)
		case "5":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchPaper(reader)
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

// effective shows what the bot would run with; the edited file keeps only explicit values.
func effective(cfg *config.Config) config.Config {
	eff := *cfg
	eff.Exchange.Symbols = append([]string(nil), cfg.Exchange.Symbols...)
	eff.ApplyDefaults()
	return eff
}

func printSummary(cfg *config.Config) {
	eff := effective(cfg)
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s | Symbols: %s\n", eff.Exchange.Provider, strings.Join(eff.Exchange.Symbols, ", "))
	fmt.Printf("Cycle interval: %s\n", eff.App.CycleInterval())
	fmt.Printf("Initial balance: $%.2f\n", eff.Paper.InitialBalanceUSD)
	fmt.Printf("Max position: $%.2f | Min position: $%.2f\n", eff.Paper.MaxPositionUSD, eff.Paper.MinPositionUSD)
	fmt.Printf("Take profit: %.2f%% | Stop loss: %.2f%%\n", eff.Paper.TPPct, eff.Paper.SLPct)
	fmt.Printf("Min confidence: %.0f%%\n", eff.Paper.MinConfidencePct)
	fmt.Printf("Strategy: %s | liquidation >= $%.0f (size > %.0f) | whale >= $%.0f\n",
		eff.Strategy.Mode, eff.Strategy.LiquidationThresholdUSD, eff.Strategy.SizeFloor, eff.Strategy.WhaleThresholdUSD)
	fmt.Printf("State file: %s\n", eff.Paper.StatePath)
	if err := eff.Validate(); err != nil {
		fmt.Printf("WARNING: %v\n", err)
	}
}

func printAccount(cfg *config.Config) {
	eff := effective(cfg)
	st := store.NewFileStore(eff.Paper.StatePath, eff.Paper.InitialBalanceUSD, zerolog.Nop())
	acct, savedAt, err := st.Inspect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read account: %v\n", err)
		return
	}
	fmt.Print(formatAccount(acct, savedAt))
}

func formatAccount(acct paper.Account, savedAt time.Time) string {
	var b strings.Builder
	total := acct.BalanceUSD + acct.Escrowed() - acct.InitialBalanceUSD
	pct := 0.0
	if acct.InitialBalanceUSD > 0 {
		pct = total / acct.InitialBalanceUSD * 100
	}
	wins := 0
	for _, tr := range acct.Trades {
		if tr.PnLUSD > 0 {
			wins++
		}
	}
	fmt.Fprintf(&b, "\n--- Paper Account (saved %s) ---\n", savedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "Balance: $%.2f | Initial: $%.2f\n", acct.BalanceUSD, acct.InitialBalanceUSD)
	fmt.Fprintf(&b, "Realized P&L: $%+.2f (%+.2f%%)\n", total, pct)
	fmt.Fprintf(&b, "Open positions: %d\n", len(acct.OpenPositions))
	for _, sym := range acct.Symbols() {
		pos := acct.OpenPositions[sym]
		fmt.Fprintf(&b, "   %s %s: %s @ $%.2f size $%.2f tp $%.4f sl $%.4f\n",
			pos.ID, sym, pos.Side, pos.EntryPrice, pos.SizeUSD, pos.TPPrice, pos.SLPrice)
	}
	fmt.Fprintf(&b, "Closed trades: %d (wins %d)\n", len(acct.Trades), wins)
	return b.String()
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Bankroll ---")
	cfg.Paper.InitialBalanceUSD = promptFloat(reader, "Initial balance (USD)", cfg.Paper.InitialBalanceUSD)
	cfg.Paper.MaxPositionUSD = promptFloat(reader, "Max position (USD)", cfg.Paper.MaxPositionUSD)
	cfg.Paper.MinPositionUSD = promptFloat(reader, "Min position (USD)", cfg.Paper.MinPositionUSD)
	cfg.Paper.TPPct = promptFloat(reader, "Take profit (%)", cfg.Paper.TPPct)
	cfg.Paper.SLPct = promptFloat(reader, "Stop loss (%)", cfg.Paper.SLPct)
	cfg.Paper.MinConfidencePct = promptFloat(reader, "Min confidence (%)", cfg.Paper.MinConfidencePct)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	cfg.Exchange.Symbols = promptList(reader, "Symbols", cfg.Exchange.Symbols)
	cfg.Strategy.Mode = promptString(reader, "Mode (all|liquidation|whale)", cfg.Strategy.Mode)
	cfg.Strategy.LiquidationThresholdUSD = promptFloat(reader, "Liquidation threshold (USD)", cfg.Strategy.LiquidationThresholdUSD)
	cfg.Strategy.SizeFloor = promptFloat(reader, "Liquidation size floor", cfg.Strategy.SizeFloor)
	cfg.Strategy.WhaleThresholdUSD = promptFloat(reader, "Whale threshold (USD)", cfg.Strategy.WhaleThresholdUSD)
}

func launchPaper(reader *bufio.Reader) {
	fmt.Println("Launching paper bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/paper")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Env = append(os.Environ(), "SWEEPBOT_CONFIG="+locateConfig())
	// interrupt rather than kill so the bot writes its final snapshot
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 10 * time.Second

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	<-done
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil || val < 0 {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return current
}

func promptList(reader *bufio.Reader, label string, current []string) []string {
	fmt.Printf("%s [%s] (comma-separated, blank to keep): ", label, strings.Join(current, ", "))
	line, _ := reader.ReadString('\n')
	if strings.TrimSpace(line) == "" {
		return current
	}
	var out []string
	for _, p := range strings.Split(line, ",") {
		if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return current
	}
	return out
}

// loadConfig reads the file without env overrides so secrets never get written back on save.
func loadConfig() (*config.Config, error) {
	return config.Read(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	eff := effective(cfg)
	if err := eff.Validate(); err != nil {
		return err
	}
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	return filepath.Clean(config.Path())
}
