package sale

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ErrNoRate indicates the oracle has no rate for a requested hop.
var ErrNoRate = errors.New("sale: no oracle rate for pair")

// PriceOracle resolves how many sale-token units a payment amount buys along
// the given symbol path at current market terms. The engine treats the answer
// as authoritative for the pricing formula but never lets the oracle touch
// ledger state: the call happens before any write and under the engine lock.
type PriceOracle interface {
	Quote(amount *big.Int, path []string) (*big.Int, error)
}

// FixedRateOracle quotes from an operator-maintained table of pair rates. Rates
// are big.Rat values applied hop by hop with integer truncation after each hop,
// matching the precision the ledger records.
type FixedRateOracle struct {
	mu    sync.RWMutex
	rates map[string]*big.Rat
}

// NewFixedRateOracle constructs an empty rate table.
func NewFixedRateOracle() *FixedRateOracle {
	return &FixedRateOracle{rates: make(map[string]*big.Rat)}
}

func pairKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// SetRate installs or replaces the rate for one base/quote hop. A nil or
// non-positive rate removes the pair.
func (o *FixedRateOracle) SetRate(base, quote string, rate *big.Rat) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := pairKey(base, quote)
	if rate == nil || rate.Sign() <= 0 {
		delete(o.rates, key)
		return
	}
	o.rates[key] = new(big.Rat).Set(rate)
}

// Quote implements PriceOracle by walking the path pairwise through the rate
// table.
func (o *FixedRateOracle) Quote(amount *big.Int, path []string) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("sale: oracle amount must be non-negative")
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("sale: oracle path needs at least two symbols, got %d", len(path))
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := new(big.Int).Set(amount)
	for i := 0; i+1 < len(path); i++ {
		rate, ok := o.rates[pairKey(path[i], path[i+1])]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoRate, pairKey(path[i], path[i+1]))
		}
		scaled := new(big.Rat).Mul(new(big.Rat).SetInt(out), rate)
		out = new(big.Int).Quo(scaled.Num(), scaled.Denom())
	}
	return out, nil
}
