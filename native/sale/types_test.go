package sale

import (
	"math/big"
	"testing"
)

func TestSanitizePlanRejectsBadTerms(t *testing.T) {
	cases := []struct {
		name string
		plan *Plan
	}{
		{"nil", nil},
		{"discount over 10000", &Plan{ID: 1, DiscountBps: 10_001, EndTime: 1}},
		{"bonus over 10000", &Plan{ID: 1, BonusBps: 10_001, EndTime: 1}},
		{"inverted window", &Plan{ID: 1, StartTime: 10, EndTime: 5}},
		{"negative lock", &Plan{ID: 1, EndTime: 1, LockDuration: -1}},
	}
	for _, tc := range cases {
		if _, err := SanitizePlan(tc.plan); err == nil {
			t.Errorf("%s: sanitize accepted", tc.name)
		}
	}
}

func TestSanitizePlanDoesNotMutate(t *testing.T) {
	plan := &Plan{ID: 1, StartTime: 1, EndTime: 2}
	sanitized, err := SanitizePlan(plan)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if plan.TokensSold != nil {
		t.Fatalf("sanitize mutated the input")
	}
	if sanitized.TokensSold == nil || sanitized.TokensSold.Sign() != 0 {
		t.Fatalf("sanitize did not default accumulators")
	}
}

func TestSanitizeAssetNormalisesSymbol(t *testing.T) {
	asset, err := SanitizeAsset(&PaymentAsset{
		Asset:      newTestAddress(0xAA),
		Symbol:     "  usdt ",
		MinPerUser: big.NewInt(1),
		MaxPerUser: big.NewInt(2),
	})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if asset.Symbol != "USDT" {
		t.Fatalf("symbol = %q, want USDT", asset.Symbol)
	}
}

func TestSanitizeAssetRejectsInvertedBounds(t *testing.T) {
	_, err := SanitizeAsset(&PaymentAsset{
		Asset:      newTestAddress(0xAA),
		Symbol:     "USDT",
		MinPerUser: big.NewInt(5),
		MaxPerUser: big.NewInt(1),
	})
	if err == nil {
		t.Fatalf("inverted bounds accepted")
	}
}

func TestPurchaseCloneIsDeep(t *testing.T) {
	original := &Purchase{
		PlanID:         1,
		Buyer:          newTestAddress(0x01),
		PurchaseTime:   100,
		AmountSpent:    map[[20]byte]*big.Int{newTestAddress(0xAA): big.NewInt(10)},
		TokensReceived: big.NewInt(11),
	}
	clone := original.Clone()
	clone.AmountSpent[newTestAddress(0xAA)].SetInt64(999)
	clone.TokensReceived.SetInt64(999)

	if original.AmountSpent[newTestAddress(0xAA)].Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("clone shares spend map values")
	}
	if original.TokensReceived.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("clone shares token amount")
	}
}

func TestApplyBpsTruncates(t *testing.T) {
	if got := applyBps(big.NewInt(11), 1000); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("11 at 1000 bps = %s, want 1", got)
	}
	if got := applyBps(big.NewInt(10), 500); got.Sign() != 0 {
		t.Fatalf("10 at 500 bps = %s, want 0", got)
	}
	if got := applyBps(nil, 1000); got.Sign() != 0 {
		t.Fatalf("nil amount = %s, want 0", got)
	}
}
