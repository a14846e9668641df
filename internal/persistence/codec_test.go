package persistence_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"PerpClear/internal/collateral"
	"PerpClear/internal/engine"
	"PerpClear/internal/event"
	"PerpClear/internal/persistence"
	"PerpClear/internal/position"
)

func TestRowFromOutput(t *testing.T) {
	acct := uuid.New()
	env := &event.Envelope{
		Sequence:  42,
		EventID:   uuid.New(),
		Type:      event.TypeDeposited,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Event: &event.Deposited{
			Account:   acct,
			Token:     "USDC",
			Units:     big.NewInt(1_000_000),
			AmountX18: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		},
	}

	row, err := persistence.RowFromOutput(engine.Output{Envelope: env})
	if err != nil {
		t.Fatalf("RowFromOutput: %v", err)
	}
	if row.Sequence != 42 {
		t.Fatalf("sequence = %d, want 42", row.Sequence)
	}
	if row.EventType != "Deposited" {
		t.Fatalf("event_type = %q, want Deposited", row.EventType)
	}
	if row.MarketID != nil {
		t.Fatalf("market_id = %v, want nil for account-level event", *row.MarketID)
	}

	// The payload must carry the account so the JSONB account index works.
	var payload struct {
		Account uuid.UUID `json:"account"`
	}
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload.Account != acct {
		t.Fatalf("payload account = %s, want %s", payload.Account, acct)
	}
}

func TestRowFromOutput_MarketScoped(t *testing.T) {
	env := &event.Envelope{
		Sequence:  7,
		EventID:   uuid.New(),
		Type:      event.TypeMarketPaused,
		MarketID:  "ETH-USD-PERP",
		Timestamp: time.Now().UTC(),
		Event:     &event.MarketPaused{MarketID: "ETH-USD-PERP", Reason: "oracle gap"},
	}
	row, err := persistence.RowFromOutput(engine.Output{Envelope: env})
	if err != nil {
		t.Fatalf("RowFromOutput: %v", err)
	}
	if row.MarketID == nil || *row.MarketID != "ETH-USD-PERP" {
		t.Fatalf("market_id = %v, want ETH-USD-PERP", row.MarketID)
	}
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	acct := uuid.New()
	x18 := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	}

	in := &engine.StateSnapshot{
		Sequence: 9001,
		Balances: []collateral.BalanceRecord{
			{Account: acct, Token: "USDC", AvailableX18: x18(750), ReservedX18: x18(0)},
		},
		Positions: []*position.Position{
			{
				Account:             acct,
				MarketID:            "ETH-USD-PERP",
				SizeX18:             x18(-2),
				EntryPriceX18:       x18(1_980),
				MarginX18:           x18(400),
				LastFundingIndexX18: big.NewInt(-125_000_000_000_000),
				RealizedPnLX18:      x18(12),
				Version:             3,
			},
		},
		Markets: []engine.MarketState{
			{
				MarketID:        "ETH-USD-PERP",
				ReserveBaseX18:  x18(1_002),
				ReserveQuoteX18: x18(1_996_000),
				FundingIndexX18: big.NewInt(-125_000_000_000_000),
				LastFundingAt:   1_700_003_600,
			},
		},
		InsuranceX18: x18(50_000),
		RequestKeys:  []string{"req-1", "req-2"},
	}

	data := persistence.EncodeSnapshot(in, time.Unix(1_700_004_000, 0).UTC())

	// Stored form must survive a JSON round trip, since it lives in JSONB.
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal snapshot data: %v", err)
	}
	var stored persistence.SnapshotData
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("unmarshal snapshot data: %v", err)
	}

	out, err := persistence.DecodeSnapshot(&stored)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	if out.Sequence != in.Sequence {
		t.Fatalf("sequence = %d, want %d", out.Sequence, in.Sequence)
	}
	if out.InsuranceX18.Cmp(in.InsuranceX18) != 0 {
		t.Fatalf("insurance = %s, want %s", out.InsuranceX18, in.InsuranceX18)
	}
	if len(out.Balances) != 1 || out.Balances[0].AvailableX18.Cmp(x18(750)) != 0 {
		t.Fatalf("balances did not round-trip: %+v", out.Balances)
	}
	if len(out.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(out.Positions))
	}
	pos := out.Positions[0]
	if pos.SizeX18.Cmp(x18(-2)) != 0 {
		t.Fatalf("size = %s, want %s", pos.SizeX18, x18(-2))
	}
	if pos.LastFundingIndexX18.Cmp(big.NewInt(-125_000_000_000_000)) != 0 {
		t.Fatalf("funding index = %s", pos.LastFundingIndexX18)
	}
	if pos.Version != 3 {
		t.Fatalf("version = %d, want 3", pos.Version)
	}
	if len(out.Markets) != 1 || out.Markets[0].LastFundingAt != 1_700_003_600 {
		t.Fatalf("markets did not round-trip: %+v", out.Markets)
	}
	if len(out.RequestKeys) != 2 || out.RequestKeys[0] != "req-1" {
		t.Fatalf("request keys did not round-trip: %v", out.RequestKeys)
	}
}

func TestDecodeSnapshot_MalformedAmount(t *testing.T) {
	data := &persistence.SnapshotData{
		Sequence:     1,
		InsuranceX18: "not-a-number",
	}
	if _, err := persistence.DecodeSnapshot(data); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}
