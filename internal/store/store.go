// Package store persists the paper account as a single JSON snapshot.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"sweepbot-go/internal/paper"
)

var (
	// ErrStateCorrupt means a snapshot exists but cannot be trusted. The file has been moved aside.
	ErrStateCorrupt = errors.New("state snapshot corrupt")
	// ErrPersistence means the snapshot could not be read or written.
	ErrPersistence = errors.New("state persistence failed")
)

const snapshotVersion = 1

// escrowTolerance is the relative drift allowed between cash plus escrow and initial plus realized P&L.
// Rounding error grows with the magnitudes summed, so it scales with them.
const escrowTolerance = 1e-9

type snapshot struct {
	Version int `json:"version"`
	paper.Account
	SavedAt time.Time `json:"savedAt"`
}

// FileStore reads and atomically replaces the snapshot at path.
type FileStore struct {
	path           string
	initialBalance float64
	log            zerolog.Logger
	now            func() time.Time
}

// NewFileStore returns a store whose fresh accounts start with initialBalance.
func NewFileStore(path string, initialBalance float64, log zerolog.Logger) *FileStore {
	return &FileStore{
		path:           path,
		initialBalance: initialBalance,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

// Load returns the persisted account, or a fresh one when no snapshot exists yet.
func (s *FileStore) Load() (paper.Account, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return paper.NewAccount(s.initialBalance), nil
	}
	if err != nil {
		return paper.Account{}, fmt.Errorf("%w: read %s: %v", ErrPersistence, s.path, err)
	}

	snap, err := decode(raw)
	if err != nil {
		return paper.Account{}, s.quarantine(err)
	}
	return snap.Account, nil
}

// Inspect reads the snapshot without side effects: a corrupt file is reported but left in place.
func (s *FileStore) Inspect() (paper.Account, time.Time, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return paper.Account{}, time.Time{}, fmt.Errorf("%w: read %s: %v", ErrPersistence, s.path, err)
	}
	snap, err := decode(raw)
	if err != nil {
		return paper.Account{}, time.Time{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return snap.Account, snap.SavedAt, nil
}

func decode(raw []byte) (snapshot, error) {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode: %v", err)
	}
	if err := validate(snap); err != nil {
		return snapshot{}, err
	}
	if snap.OpenPositions == nil {
		snap.OpenPositions = make(map[string]paper.Position)
	}
	if snap.Trades == nil {
		snap.Trades = []paper.Trade{}
	}
	return snap, nil
}

func validate(snap snapshot) error {
	if snap.Version > snapshotVersion {
		return fmt.Errorf("unsupported version %d", snap.Version)
	}
	acct := snap.Account
	if acct.InitialBalanceUSD <= 0 {
		return fmt.Errorf("initialBalanceUsd must be positive, got %.2f", acct.InitialBalanceUSD)
	}
	if acct.TradeCounter < 0 {
		return fmt.Errorf("negative tradeCounter %d", acct.TradeCounter)
	}
	for key, pos := range acct.OpenPositions {
		if pos.Symbol != key {
			return fmt.Errorf("position keyed %q holds symbol %q", key, pos.Symbol)
		}
		if pos.EntryPrice <= 0 || pos.SizeUSD <= 0 {
			return fmt.Errorf("position %s has non-positive entry or size", pos.ID)
		}
	}
	drift := acct.BalanceUSD + acct.Escrowed() - (acct.InitialBalanceUSD + acct.RealizedPnL())
	if math.Abs(drift) > escrowTolerance*escrowScale(acct) {
		return fmt.Errorf("escrow mismatch of %.8f", drift)
	}
	return nil
}

func escrowScale(acct paper.Account) float64 {
	scale := math.Abs(acct.BalanceUSD) + acct.Escrowed() + acct.InitialBalanceUSD
	for _, tr := range acct.Trades {
		scale += math.Abs(tr.SizeUSD) + math.Abs(tr.PnLUSD)
	}
	return math.Max(1, scale)
}

// quarantine renames the bad snapshot so the next save does not silently overwrite it.
func (s *FileStore) quarantine(cause error) error {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to move corrupt snapshot aside")
		return fmt.Errorf("%w: %v", ErrStateCorrupt, cause)
	}
	s.log.Warn().Err(cause).Str("path", s.path).Str("moved_to", aside).Msg("corrupt snapshot quarantined")
	return fmt.Errorf("%w: %v (moved to %s)", ErrStateCorrupt, cause, aside)
}

// Save writes the snapshot to a temp file, syncs it and renames it over the previous one,
// so a crash never leaves a half-written snapshot behind.
func (s *FileStore) Save(acct paper.Account) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create dir: %v", ErrPersistence, err)
		}
	}
	b, err := json.MarshalIndent(snapshot{Version: snapshotVersion, Account: acct, SavedAt: s.now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrPersistence, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: write temp: %v", ErrPersistence, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: sync temp: %v", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close temp: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}
