package oracle_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/oracle"
)

func TestStaticSource_ReturnsCopy(t *testing.T) {
	src := oracle.NewStaticSource(fixedpoint.FromInt(2_000))

	p, err := src.IndexPrice()
	if err != nil {
		t.Fatalf("IndexPrice: %v", err)
	}
	p.SetInt64(0)

	again, err := src.IndexPrice()
	if err != nil {
		t.Fatalf("IndexPrice: %v", err)
	}
	if again.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("caller mutation leaked into source: %s", again)
	}
}

func TestStaticSource_FailAndRecover(t *testing.T) {
	src := oracle.NewStaticSource(fixedpoint.FromInt(2_000))
	src.Fail(errors.New("upstream down"))

	if _, err := src.IndexPrice(); err == nil {
		t.Fatal("failed source must error")
	}

	src.SetPrice(fixedpoint.FromInt(2_100))
	p, err := src.IndexPrice()
	if err != nil {
		t.Fatalf("IndexPrice after recovery: %v", err)
	}
	if p.Cmp(fixedpoint.FromInt(2_100)) != 0 {
		t.Errorf("price after recovery: %s", p)
	}
}

func TestCachedSource_NoPriceBeforeFirstUpdate(t *testing.T) {
	src := oracle.NewCachedSource(0)
	if _, err := src.IndexPrice(); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
}

func TestCachedSource_IgnoresNonPositive(t *testing.T) {
	src := oracle.NewCachedSource(0)
	src.Update(big.NewInt(0))
	src.Update(big.NewInt(-5))
	if _, err := src.IndexPrice(); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("non-positive updates must not install a price: %v", err)
	}

	src.Update(fixedpoint.FromInt(1_999))
	p, err := src.IndexPrice()
	if err != nil {
		t.Fatalf("IndexPrice: %v", err)
	}
	if p.Cmp(fixedpoint.FromInt(1_999)) != 0 {
		t.Errorf("price: %s", p)
	}
}

func TestDecimalToX18(t *testing.T) {
	cases := []struct {
		in   string
		want *big.Int
		ok   bool
	}{
		{"2012.35", new(big.Int).Mul(big.NewInt(201_235), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)), true},
		{"0", nil, false},
		{"-1.5", nil, false},
	}
	for _, tc := range cases {
		d, err := decimal.NewFromString(tc.in)
		if err != nil {
			t.Fatal(err)
		}
		got, ok := oracle.DecimalToX18(d)
		if ok != tc.ok {
			t.Errorf("%s: ok=%v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got.Cmp(tc.want) != 0 {
			t.Errorf("%s: got %s, want %s", tc.in, got, tc.want)
		}
	}
}
