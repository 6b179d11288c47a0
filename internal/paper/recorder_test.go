package paper

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"sweepbot-go/internal/signal"
)

func TestJSONLRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "trades.jsonl")

	recorder, err := NewJSONLRecorder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	trade := Trade{ID: "POS_0000", Symbol: "BTC", Side: signal.Buy, PnLUSD: 0.62, CloseReason: TakeProfit}
	recorder.Record(trade)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	recorder.Record(trade)

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lines := 0
	var decoded Trade
	for scanner.Scan() {
		lines++
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("json decode: %v", err)
		}
	}
	if lines != 1 {
		t.Fatalf("expected exactly one journal line, got %d", lines)
	}
	if decoded.ID != trade.ID || decoded.CloseReason != TakeProfit {
		t.Fatalf("unexpected decoded trade %+v", decoded)
	}
}
