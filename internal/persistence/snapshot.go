package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"PerpClear/internal/collateral"
	"PerpClear/internal/engine"
	"PerpClear/internal/position"
)

// SnapshotManager persists and loads engine state snapshots. Snapshots are
// the venue's recovery mechanism: on restart the latest verified snapshot is
// restored and the engine resumes from its sequence. The event log is an
// audit and query surface, not a replay source.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotData is the serialized form of engine.StateSnapshot. All X18
// amounts are decimal strings so the payload survives JSON round-trips
// without precision loss.
type SnapshotData struct {
	Sequence     int64             `json:"sequence"`
	Balances     []BalanceSnap     `json:"balances"`
	Positions    []PositionSnap    `json:"positions"`
	Markets      []MarketStateSnap `json:"markets"`
	InsuranceX18 string            `json:"insurance_x18"`
	RequestKeys  []string          `json:"request_keys"`
	CreatedAt    time.Time         `json:"created_at"`
}

type BalanceSnap struct {
	Account      uuid.UUID `json:"account"`
	Token        string    `json:"token"`
	AvailableX18 string    `json:"available_x18"`
	ReservedX18  string    `json:"reserved_x18"`
}

type PositionSnap struct {
	Account             uuid.UUID `json:"account"`
	MarketID            string    `json:"market_id"`
	SizeX18             string    `json:"size_x18"`
	EntryPriceX18       string    `json:"entry_price_x18"`
	MarginX18           string    `json:"margin_x18"`
	LastFundingIndexX18 string    `json:"last_funding_index_x18"`
	RealizedPnLX18      string    `json:"realized_pnl_x18"`
	Version             int64     `json:"version"`
}

type MarketStateSnap struct {
	MarketID        string `json:"market_id"`
	ReserveBaseX18  string `json:"reserve_base_x18"`
	ReserveQuoteX18 string `json:"reserve_quote_x18"`
	FundingIndexX18 string `json:"funding_index_x18"`
	LastFundingAt   int64  `json:"last_funding_at"`
}

// EncodeSnapshot converts the engine's in-memory snapshot to its stored form.
func EncodeSnapshot(snap *engine.StateSnapshot, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:     snap.Sequence,
		InsuranceX18: snap.InsuranceX18.String(),
		RequestKeys:  snap.RequestKeys,
		CreatedAt:    createdAt,
	}
	for _, b := range snap.Balances {
		data.Balances = append(data.Balances, BalanceSnap{
			Account:      b.Account,
			Token:        b.Token,
			AvailableX18: b.AvailableX18.String(),
			ReservedX18:  b.ReservedX18.String(),
		})
	}
	for _, p := range snap.Positions {
		data.Positions = append(data.Positions, PositionSnap{
			Account:             p.Account,
			MarketID:            p.MarketID,
			SizeX18:             p.SizeX18.String(),
			EntryPriceX18:       p.EntryPriceX18.String(),
			MarginX18:           p.MarginX18.String(),
			LastFundingIndexX18: p.LastFundingIndexX18.String(),
			RealizedPnLX18:      p.RealizedPnLX18.String(),
			Version:             p.Version,
		})
	}
	for _, m := range snap.Markets {
		data.Markets = append(data.Markets, MarketStateSnap{
			MarketID:        m.MarketID,
			ReserveBaseX18:  m.ReserveBaseX18.String(),
			ReserveQuoteX18: m.ReserveQuoteX18.String(),
			FundingIndexX18: m.FundingIndexX18.String(),
			LastFundingAt:   m.LastFundingAt,
		})
	}
	return data
}

// DecodeSnapshot converts stored snapshot data back to the engine's form.
func DecodeSnapshot(data *SnapshotData) (*engine.StateSnapshot, error) {
	snap := &engine.StateSnapshot{
		Sequence:    data.Sequence,
		RequestKeys: data.RequestKeys,
	}
	var err error
	if snap.InsuranceX18, err = parseX18(data.InsuranceX18); err != nil {
		return nil, fmt.Errorf("insurance balance: %w", err)
	}
	for _, b := range data.Balances {
		rec := collateral.BalanceRecord{Account: b.Account, Token: b.Token}
		if rec.AvailableX18, err = parseX18(b.AvailableX18); err != nil {
			return nil, fmt.Errorf("balance %s/%s: %w", b.Account, b.Token, err)
		}
		if rec.ReservedX18, err = parseX18(b.ReservedX18); err != nil {
			return nil, fmt.Errorf("balance %s/%s: %w", b.Account, b.Token, err)
		}
		snap.Balances = append(snap.Balances, rec)
	}
	for _, p := range data.Positions {
		pos := &position.Position{
			Account:  p.Account,
			MarketID: p.MarketID,
			Version:  p.Version,
		}
		if pos.SizeX18, err = parseX18(p.SizeX18); err != nil {
			return nil, fmt.Errorf("position %s/%s: %w", p.Account, p.MarketID, err)
		}
		if pos.EntryPriceX18, err = parseX18(p.EntryPriceX18); err != nil {
			return nil, fmt.Errorf("position %s/%s: %w", p.Account, p.MarketID, err)
		}
		if pos.MarginX18, err = parseX18(p.MarginX18); err != nil {
			return nil, fmt.Errorf("position %s/%s: %w", p.Account, p.MarketID, err)
		}
		if pos.LastFundingIndexX18, err = parseX18(p.LastFundingIndexX18); err != nil {
			return nil, fmt.Errorf("position %s/%s: %w", p.Account, p.MarketID, err)
		}
		if pos.RealizedPnLX18, err = parseX18(p.RealizedPnLX18); err != nil {
			return nil, fmt.Errorf("position %s/%s: %w", p.Account, p.MarketID, err)
		}
		snap.Positions = append(snap.Positions, pos)
	}
	for _, m := range data.Markets {
		ms := engine.MarketState{MarketID: m.MarketID, LastFundingAt: m.LastFundingAt}
		if ms.ReserveBaseX18, err = parseX18(m.ReserveBaseX18); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.MarketID, err)
		}
		if ms.ReserveQuoteX18, err = parseX18(m.ReserveQuoteX18); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.MarketID, err)
		}
		if ms.FundingIndexX18, err = parseX18(m.FundingIndexX18); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.MarketID, err)
		}
		snap.Markets = append(snap.Markets, ms)
	}
	return snap, nil
}

// SaveSnapshot persists a snapshot, overwriting any snapshot at the same
// sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, data *SnapshotData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots (snapshot_id, sequence, data, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), data.Sequence, payload, len(payload), data.CreatedAt)
	return err
}

// LoadLatestSnapshot returns the most recent verified snapshot, nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var data SnapshotData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &data, nil
}

// MarkVerified flags a snapshot as usable for recovery.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

func parseX18(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
