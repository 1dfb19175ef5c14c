package sale

import (
	"fmt"
	"math/big"
	"strings"
)

// bpsDenominator is the resolution of all rate fields: basis points with two
// implicit decimal places beyond percent, so 500 = 5.00%.
const bpsDenominator = 10_000

// NativeAsset is the sentinel asset identifier for the base currency. An
// all-zero identifier always refers to the chain's native coin rather than a
// token contract.
var NativeAsset [20]byte

// Plan captures the sale terms and running totals for one sale round. Plans are
// created and mutated exclusively by the administrator; engines only read them
// and bump the accumulator fields.
type Plan struct {
	ID           uint32
	DiscountBps  uint32
	BonusBps     uint32
	StartTime    int64
	EndTime      int64
	LockDuration int64
	// TotalInvestors and TokensSold only ever grow. They are bumped once per
	// accepted purchase and survive administrator term rewrites.
	TotalInvestors uint64
	TokensSold     *big.Int
}

// Clone returns a deep copy of the plan so callers can safely mutate the copy
// without affecting the stored instance.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TokensSold != nil {
		clone.TokensSold = new(big.Int).Set(p.TokensSold)
	} else {
		clone.TokensSold = big.NewInt(0)
	}
	return &clone
}

// SanitizePlan validates and normalises the supplied plan, returning a cloned
// instance with non-nil accumulator fields. The function does not mutate the
// original value.
func SanitizePlan(p *Plan) (*Plan, error) {
	if p == nil {
		return nil, fmt.Errorf("nil plan")
	}
	clone := p.Clone()
	if clone.DiscountBps > bpsDenominator {
		return nil, fmt.Errorf("plan discount bps out of range: %d", clone.DiscountBps)
	}
	if clone.BonusBps > bpsDenominator {
		return nil, fmt.Errorf("plan bonus bps out of range: %d", clone.BonusBps)
	}
	if clone.StartTime > clone.EndTime {
		return nil, fmt.Errorf("plan window inverted: start %d after end %d", clone.StartTime, clone.EndTime)
	}
	if clone.LockDuration < 0 {
		return nil, fmt.Errorf("plan lock duration must be non-negative")
	}
	if clone.TokensSold.Sign() < 0 {
		return nil, fmt.Errorf("plan tokens sold must be non-negative")
	}
	return clone, nil
}

// PaymentAsset describes one currency the sale accepts, together with its
// per-purchase bounds and the cumulative raise cap across all plans.
type PaymentAsset struct {
	Asset      [20]byte
	Symbol     string
	Supported  bool
	MinPerUser *big.Int
	MaxPerUser *big.Int
	HardCap    *big.Int
	// TotalRaised only ever grows; it is bumped once per accepted purchase
	// and survives administrator term rewrites.
	TotalRaised *big.Int
}

// Clone returns a deep copy of the payment asset definition.
func (a *PaymentAsset) Clone() *PaymentAsset {
	if a == nil {
		return nil
	}
	clone := *a
	clone.MinPerUser = cloneBigInt(a.MinPerUser)
	clone.MaxPerUser = cloneBigInt(a.MaxPerUser)
	clone.HardCap = cloneBigInt(a.HardCap)
	clone.TotalRaised = cloneBigInt(a.TotalRaised)
	return &clone
}

// SanitizeAsset validates and normalises the supplied asset definition,
// returning a cloned instance with a canonical upper-case symbol and non-nil
// amount fields. The function does not mutate the original value.
func SanitizeAsset(a *PaymentAsset) (*PaymentAsset, error) {
	if a == nil {
		return nil, fmt.Errorf("nil payment asset")
	}
	clone := a.Clone()
	clone.Symbol = strings.ToUpper(strings.TrimSpace(clone.Symbol))
	if clone.Symbol == "" {
		return nil, fmt.Errorf("payment asset symbol must not be empty")
	}
	if clone.MinPerUser.Sign() < 0 || clone.MaxPerUser.Sign() < 0 {
		return nil, fmt.Errorf("payment asset bounds must be non-negative")
	}
	if clone.MinPerUser.Cmp(clone.MaxPerUser) > 0 {
		return nil, fmt.Errorf("payment asset bounds inverted: min %s above max %s", clone.MinPerUser, clone.MaxPerUser)
	}
	if clone.HardCap.Sign() < 0 {
		return nil, fmt.Errorf("payment asset hard cap must be non-negative")
	}
	return clone, nil
}

// Purchase records the single allowed purchase for a (plan, buyer) pair. The
// record is immutable after creation except for the one-way Claimed flag.
type Purchase struct {
	PlanID uint32
	Buyer  [20]byte
	// PurchaseTime of zero is the sentinel for "no purchase yet" and doubles
	// as the one-purchase-per-user guard. Once non-zero it is never reset.
	PurchaseTime int64
	// AmountSpent keeps the contribution attributable per payment asset even
	// though only one purchase per plan is allowed.
	AmountSpent    map[[20]byte]*big.Int
	TokensReceived *big.Int
	Claimed        bool
}

// Clone returns a deep copy of the purchase record.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TokensReceived = cloneBigInt(p.TokensReceived)
	clone.AmountSpent = make(map[[20]byte]*big.Int, len(p.AmountSpent))
	for asset, amt := range p.AmountSpent {
		clone.AmountSpent[asset] = cloneBigInt(amt)
	}
	return &clone
}

// Exists reports whether the record represents an accepted purchase.
func (p *Purchase) Exists() bool {
	return p != nil && p.PurchaseTime != 0
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// applyBps returns amount*bps/10000 with integer truncation.
func applyBps(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
