package position_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/position"
)

const mkt = "ETH-USD-PERP"

func open(t *testing.T, b *position.Book, acct uuid.UUID, size, price int64) *position.Position {
	t.Helper()
	pos := b.GetOrCreate(acct, mkt, new(big.Int))
	b.ApplyTrade(pos, fixedpoint.FromInt(size), fixedpoint.FromInt(price))
	return pos
}

func TestApplyTrade_Open(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()

	pos := open(t, b, acct, 2, 2_000)
	if pos.SizeX18.Cmp(fixedpoint.FromInt(2)) != 0 {
		t.Errorf("size: %s", pos.SizeX18)
	}
	if pos.EntryPriceX18.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("entry: %s", pos.EntryPriceX18)
	}
	if b.ActiveCount(acct) != 1 {
		t.Errorf("active count: %d", b.ActiveCount(acct))
	}
}

func TestApplyTrade_IncreaseWeightsEntry(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()
	pos := open(t, b, acct, 1, 2_000)

	b.ApplyTrade(pos, fixedpoint.FromInt(1), fixedpoint.FromInt(2_200))

	if pos.SizeX18.Cmp(fixedpoint.FromInt(2)) != 0 {
		t.Errorf("size: %s", pos.SizeX18)
	}
	if pos.EntryPriceX18.Cmp(fixedpoint.FromInt(2_100)) != 0 {
		t.Errorf("entry: got %s, want 2100e18", pos.EntryPriceX18)
	}
}

func TestApplyTrade_ReduceRealizesProportionally(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()
	pos := open(t, b, acct, 4, 2_000)

	out := b.ApplyTrade(pos, fixedpoint.FromInt(-1), fixedpoint.FromInt(2_100))

	if out.RealizedX18.Cmp(fixedpoint.FromInt(100)) != 0 {
		t.Errorf("realized: got %s, want 100e18", out.RealizedX18)
	}
	if out.ClosedX18.Cmp(fixedpoint.FromInt(1)) != 0 {
		t.Errorf("closed: %s", out.ClosedX18)
	}
	if out.PrevAbsX18.Cmp(fixedpoint.FromInt(4)) != 0 {
		t.Errorf("prev abs: %s", out.PrevAbsX18)
	}
	if pos.SizeX18.Cmp(fixedpoint.FromInt(3)) != 0 {
		t.Errorf("size after: %s", pos.SizeX18)
	}
	// Entry unchanged on reduce.
	if pos.EntryPriceX18.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("entry after reduce: %s", pos.EntryPriceX18)
	}
}

func TestApplyTrade_FullCloseZerosEntry(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()
	pos := open(t, b, acct, 2, 2_000)

	out := b.ApplyTrade(pos, fixedpoint.FromInt(-2), fixedpoint.FromInt(1_900))

	if out.RealizedX18.Cmp(fixedpoint.FromInt(-200)) != 0 {
		t.Errorf("realized: got %s, want -200e18", out.RealizedX18)
	}
	if !pos.IsFlat() {
		t.Error("position must be flat")
	}
	if pos.EntryPriceX18.Sign() != 0 {
		t.Errorf("flat position must carry zero entry, got %s", pos.EntryPriceX18)
	}
	if b.ActiveCount(acct) != 0 {
		t.Errorf("active count: %d", b.ActiveCount(acct))
	}
}

func TestApplyTrade_FlipRealizesOldAndOpensRemainder(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()
	pos := open(t, b, acct, 2, 2_000)

	out := b.ApplyTrade(pos, fixedpoint.FromInt(-5), fixedpoint.FromInt(2_050))

	if out.RealizedX18.Cmp(fixedpoint.FromInt(100)) != 0 {
		t.Errorf("realized: got %s, want 100e18", out.RealizedX18)
	}
	if out.ClosedX18.Cmp(fixedpoint.FromInt(2)) != 0 {
		t.Errorf("closed: %s", out.ClosedX18)
	}
	if out.OpenedX18.Cmp(fixedpoint.FromInt(3)) != 0 {
		t.Errorf("opened: %s", out.OpenedX18)
	}
	if pos.SizeX18.Cmp(fixedpoint.FromInt(-3)) != 0 {
		t.Errorf("size after flip: %s", pos.SizeX18)
	}
	if pos.EntryPriceX18.Cmp(fixedpoint.FromInt(2_050)) != 0 {
		t.Errorf("entry after flip: %s", pos.EntryPriceX18)
	}
}

func TestApplyTrade_ShortSidePnLSign(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()
	pos := open(t, b, acct, -3, 2_000)

	// Price falls: short profits.
	out := b.ApplyTrade(pos, fixedpoint.FromInt(3), fixedpoint.FromInt(1_950))
	if out.RealizedX18.Cmp(fixedpoint.FromInt(150)) != 0 {
		t.Errorf("short realized: got %s, want 150e18", out.RealizedX18)
	}
}

func TestUnrealizedAt(t *testing.T) {
	b := position.NewBook()
	acct := uuid.New()
	pos := open(t, b, acct, 2, 2_000)

	upnl := pos.UnrealizedAt(fixedpoint.FromInt(2_080))
	if upnl.Cmp(fixedpoint.FromInt(160)) != 0 {
		t.Errorf("upnl: got %s, want 160e18", upnl)
	}

	short := open(t, b, uuid.New(), -2, 2_000)
	upnl = short.UnrealizedAt(fixedpoint.FromInt(2_080))
	if upnl.Cmp(fixedpoint.FromInt(-160)) != 0 {
		t.Errorf("short upnl: got %s, want -160e18", upnl)
	}
}

func TestNotionalAt(t *testing.T) {
	b := position.NewBook()
	pos := open(t, b, uuid.New(), -2, 2_000)
	if got := pos.NotionalAt(fixedpoint.FromInt(2_500)); got.Cmp(fixedpoint.FromInt(5_000)) != 0 {
		t.Errorf("notional: got %s, want 5000e18", got)
	}
}

func TestClone_Isolated(t *testing.T) {
	b := position.NewBook()
	pos := open(t, b, uuid.New(), 1, 2_000)

	cp := pos.Clone()
	b.ApplyTrade(pos, fixedpoint.FromInt(1), fixedpoint.FromInt(3_000))

	if cp.SizeX18.Cmp(fixedpoint.FromInt(1)) != 0 {
		t.Errorf("clone mutated: %s", cp.SizeX18)
	}
	if cp.EntryPriceX18.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("clone entry mutated: %s", cp.EntryPriceX18)
	}
}
