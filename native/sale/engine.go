package sale

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"tokensale/core/events"
)

var (
	errNilState   = errors.New("sale engine: state not configured")
	errNilCustody = errors.New("sale engine: custody gateway not configured")
	errNilOracle  = errors.New("sale engine: price oracle not configured")
)

type engineState interface {
	PlanGet(id uint32) (*Plan, bool, error)
	PlanPut(*Plan) error
	AssetGet(asset [20]byte) (*PaymentAsset, bool, error)
	AssetPut(*PaymentAsset) error
	PurchaseGet(planID uint32, buyer [20]byte) (*Purchase, bool, error)
	PurchasePut(*Purchase) error
}

// AdminCap is the capability required by the privileged registry and sweep
// calls. NewEngine mints exactly one; holding the pointer is the authorization.
// The struct must stay non-zero-sized: pointers to distinct zero-size values
// are allowed to compare equal, which would let a forged capability pass.
type AdminCap struct {
	_ [1]byte
}

// Engine hosts both the sale and vesting state machines. Every state-changing
// operation claims one mutual-exclusion slot: buy, claim, and the registry
// writes share it because all of them touch funds or the terms funds are
// priced against. An overlapping or re-entrant call is rejected with
// ErrReentrantCall rather than queued, so an untrusted collaborator calling
// back into the engine mid-operation is refused instead of wedging it.
type Engine struct {
	mu         sync.Mutex
	state      engineState
	custody    CustodyGateway
	oracle     PriceOracle
	emitter    events.Emitter
	saleSymbol string
	nowFn      func() int64
	admin      *AdminCap
}

// NewEngine creates a sale engine selling the token identified by saleSymbol.
// The returned AdminCap is minted exactly once; whoever wires the engine
// decides which surfaces may hold it.
func NewEngine(saleSymbol string) (*Engine, *AdminCap) {
	admin := &AdminCap{}
	return &Engine{
		emitter:    events.NoopEmitter{},
		saleSymbol: saleSymbol,
		nowFn:      func() int64 { return time.Now().Unix() },
		admin:      admin,
	}, admin
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the custody gateway used for all fund movement.
func (e *Engine) SetCustody(custody CustodyGateway) { e.custody = custody }

// SetOracle configures the price oracle consulted during purchases.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) authorize(admin *AdminCap) error {
	if e == nil || admin == nil || admin != e.admin {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) ready() error {
	switch {
	case e == nil, e.state == nil:
		return errNilState
	case e.custody == nil:
		return errNilCustody
	case e.oracle == nil:
		return errNilOracle
	}
	return nil
}

// Buy validates, prices, and records a purchase of the sale token paid in
// amount units of the given payment asset. minTokensOut of zero disables the
// slippage bound, preserving oracle-priced allocations unchecked; a positive
// bound rejects allocations below it before any fund movement.
//
// The precondition order is part of the contract: the first failing check is
// the one reported, the rest are short-circuited.
func (e *Engine) Buy(buyer [20]byte, planID uint32, asset [20]byte, amount, minTokensOut *big.Int) (*Purchase, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.mu.TryLock() {
		return nil, ErrReentrantCall
	}
	defer e.mu.Unlock()

	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrAmountOutOfRange)
	}

	assetDef, ok, err := e.state.AssetGet(asset)
	if err != nil {
		return nil, err
	}
	if !ok || !assetDef.Supported {
		return nil, ErrAssetNotSupported
	}
	plan, ok, err := e.state.PlanGet(planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotFound
	}

	if amt.Cmp(assetDef.MinPerUser) < 0 || amt.Cmp(assetDef.MaxPerUser) > 0 {
		return nil, fmt.Errorf("%w: %s outside [%s, %s]", ErrAmountOutOfRange, amt, assetDef.MinPerUser, assetDef.MaxPerUser)
	}
	raised := new(big.Int).Add(assetDef.TotalRaised, amt)
	if raised.Cmp(assetDef.HardCap) > 0 {
		return nil, fmt.Errorf("%w: %s above cap %s", ErrHardCapExceeded, raised, assetDef.HardCap)
	}
	now := e.now()
	if now < plan.StartTime || now > plan.EndTime {
		return nil, ErrSaleNotActive
	}
	purchase, ok, err := e.state.PurchaseGet(planID, buyer)
	if err != nil {
		return nil, err
	}
	if ok && purchase.Exists() {
		return nil, ErrAlreadyPurchased
	}

	tokens, err := e.priceTokens(plan, assetDef, amt)
	if err != nil {
		return nil, err
	}
	if minTokensOut != nil && minTokensOut.Sign() > 0 && tokens.Cmp(minTokensOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippage, tokens, minTokensOut)
	}

	// The inbound pull is the last step before the ledger writes: a custody
	// failure here aborts with zero state mutation.
	if err := e.custody.Debit(buyer, asset, amt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	planBefore := plan.Clone()
	assetBefore := assetDef.Clone()
	plan.TotalInvestors++
	plan.TokensSold = new(big.Int).Add(plan.TokensSold, tokens)
	assetDef.TotalRaised = raised
	record := &Purchase{
		PlanID:         planID,
		Buyer:          buyer,
		PurchaseTime:   now,
		AmountSpent:    map[[20]byte]*big.Int{asset: new(big.Int).Set(amt)},
		TokensReceived: tokens,
	}
	if err := e.state.PlanPut(plan); err != nil {
		return nil, e.unwind(buyer, asset, amt, err)
	}
	if err := e.state.AssetPut(assetDef); err != nil {
		_ = e.state.PlanPut(planBefore)
		return nil, e.unwind(buyer, asset, amt, err)
	}
	if err := e.state.PurchasePut(record); err != nil {
		_ = e.state.PlanPut(planBefore)
		_ = e.state.AssetPut(assetBefore)
		return nil, e.unwind(buyer, asset, amt, err)
	}

	e.emit(PurchaseEvent{
		PlanID:    planID,
		Asset:     asset,
		Buyer:     buyer,
		Amount:    new(big.Int).Set(amt),
		Tokens:    new(big.Int).Set(tokens),
		Timestamp: now,
	})
	return record.Clone(), nil
}

// priceTokens runs the pricing formula: the oracle's gross output divided by
// the discounted payment amount, truncating at every step. The division (not a
// scaled multiplication) is deliberate; it fixes the payout precision and must
// not be "improved".
func (e *Engine) priceTokens(plan *Plan, assetDef *PaymentAsset, amount *big.Int) (*big.Int, error) {
	gross, err := e.oracle.Quote(amount, []string{assetDef.Symbol, e.saleSymbol})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	if gross == nil || gross.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive gross %v", ErrInvalidQuote, gross)
	}
	// Discount reduces the payment amount before the ratio: one multiply then
	// one truncating divide, so 10 at 500 bps nets 9, not 10. The placement
	// of the truncation is load-bearing for payout precision.
	effective := new(big.Int).Mul(amount, big.NewInt(bpsDenominator-int64(plan.DiscountBps)))
	effective.Quo(effective, big.NewInt(bpsDenominator))
	if effective.Sign() <= 0 {
		return nil, fmt.Errorf("%w: discount consumes full amount", ErrInvalidQuote)
	}
	return new(big.Int).Quo(gross, effective), nil
}

// unwind returns debited funds after a post-transfer write failure so a buy
// never half-applies. The storage error stays primary.
func (e *Engine) unwind(buyer [20]byte, asset [20]byte, amount *big.Int, cause error) error {
	if refundErr := e.custody.Credit(buyer, asset, amount); refundErr != nil {
		return fmt.Errorf("sale engine: write failed: %v (refund failed: %v)", cause, refundErr)
	}
	return cause
}

// SetPlan overwrites the terms for the plan id. Accumulator fields
// (TotalInvestors, TokensSold) carry over from any existing record so a term
// rewrite mid-sale never rewinds the monotonic totals. Term changes take
// effect immediately, including for an already running sale.
func (e *Engine) SetPlan(admin *AdminCap, plan *Plan) error {
	if err := e.authorize(admin); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizePlan(plan)
	if err != nil {
		return err
	}
	if !e.mu.TryLock() {
		return ErrReentrantCall
	}
	defer e.mu.Unlock()
	existing, ok, err := e.state.PlanGet(sanitized.ID)
	if err != nil {
		return err
	}
	if ok {
		sanitized.TotalInvestors = existing.TotalInvestors
		sanitized.TokensSold = existing.TokensSold
	} else {
		sanitized.TotalInvestors = 0
		sanitized.TokensSold = big.NewInt(0)
	}
	if err := e.state.PlanPut(sanitized); err != nil {
		return err
	}
	e.emit(PlanUpdatedEvent{PlanID: sanitized.ID, Timestamp: e.now()})
	return nil
}

// SetAsset overwrites the terms for the payment asset. TotalRaised carries
// over from any existing record, mirroring SetPlan.
func (e *Engine) SetAsset(admin *AdminCap, asset *PaymentAsset) error {
	if err := e.authorize(admin); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeAsset(asset)
	if err != nil {
		return err
	}
	if !e.mu.TryLock() {
		return ErrReentrantCall
	}
	defer e.mu.Unlock()
	existing, ok, err := e.state.AssetGet(sanitized.Asset)
	if err != nil {
		return err
	}
	if ok {
		sanitized.TotalRaised = existing.TotalRaised
	} else {
		sanitized.TotalRaised = big.NewInt(0)
	}
	if err := e.state.AssetPut(sanitized); err != nil {
		return err
	}
	e.emit(AssetUpdatedEvent{Asset: sanitized.Asset, Timestamp: e.now()})
	return nil
}

// Sweep moves custody funds to the recipient unconditionally. It is the
// emergency escape hatch: it bypasses per-user accounting and deliberately
// does not take the buy/claim mutex, so it stays reachable even if an engine
// operation wedges.
func (e *Engine) Sweep(admin *AdminCap, asset [20]byte, recipient [20]byte, amount *big.Int) error {
	if err := e.authorize(admin); err != nil {
		return err
	}
	if e.custody == nil {
		return errNilCustody
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("sale engine: sweep amount must be positive")
	}
	if err := e.custody.Credit(recipient, asset, amt); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(SweepEvent{Asset: asset, Recipient: recipient, Amount: amt, Timestamp: e.now()})
	return nil
}

// Plan returns a copy of the stored plan.
func (e *Engine) Plan(id uint32) (*Plan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	plan, ok, err := e.state.PlanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotFound
	}
	return plan.Clone(), nil
}

// Asset returns a copy of the stored payment asset definition.
func (e *Engine) Asset(asset [20]byte) (*PaymentAsset, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	def, ok, err := e.state.AssetGet(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotSupported
	}
	return def.Clone(), nil
}

// Purchase returns a copy of the purchase record for the pair, if any.
func (e *Engine) Purchase(planID uint32, buyer [20]byte) (*Purchase, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.PurchaseGet(planID, buyer)
	if err != nil {
		return nil, err
	}
	if !ok || !record.Exists() {
		return nil, ErrNothingToClaim
	}
	return record.Clone(), nil
}
