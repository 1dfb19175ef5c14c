package sale

import (
	"fmt"
	"math/big"
)

// Claim releases the vested purchase for (planID, buyer) exactly once: the
// originally allocated tokens plus simple-interest bonus at the plan's current
// bonus rate. The claimed flag is set before the outbound credit so a
// re-entrant collaborator cannot double-claim; a failed credit restores the
// flag, keeping the flag flip and the transfer one atomic unit.
func (e *Engine) Claim(buyer [20]byte, planID uint32) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.mu.TryLock() {
		return nil, ErrReentrantCall
	}
	defer e.mu.Unlock()

	purchase, ok, err := e.state.PurchaseGet(planID, buyer)
	if err != nil {
		return nil, err
	}
	// A zero PurchaseTime means no purchase was ever accepted; without this
	// check the lock comparison below would spuriously pass against the
	// zero-valued record.
	if !ok || !purchase.Exists() {
		return nil, ErrNothingToClaim
	}
	if purchase.Claimed {
		return nil, ErrAlreadyClaimed
	}
	plan, ok, err := e.state.PlanGet(planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotFound
	}
	now := e.now()
	unlockAt := purchase.PurchaseTime + plan.LockDuration
	if now < unlockAt {
		return nil, fmt.Errorf("%w: claimable at %d, now %d", ErrStillLocked, unlockAt, now)
	}

	// Bonus reads the plan's live rate at claim time, not a snapshot taken at
	// purchase. Simple interest, applied once no matter how late the claim.
	payout := new(big.Int).Add(purchase.TokensReceived, applyBps(purchase.TokensReceived, plan.BonusBps))

	purchase.Claimed = true
	if err := e.state.PurchasePut(purchase); err != nil {
		return nil, err
	}
	if err := e.custody.Credit(buyer, saleTokenAsset(), payout); err != nil {
		purchase.Claimed = false
		if revertErr := e.state.PurchasePut(purchase); revertErr != nil {
			return nil, fmt.Errorf("%w: %v (flag revert failed: %v)", ErrTransferFailed, err, revertErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.emit(ClaimEvent{
		PlanID:    planID,
		Buyer:     buyer,
		Payout:    new(big.Int).Set(payout),
		Timestamp: now,
	})
	return payout, nil
}

// saleTokenAsset is the custody identifier the sale token itself is booked
// under. The sale token is not a payment asset, so it never collides with the
// native sentinel in the asset registry.
func saleTokenAsset() [20]byte {
	var id [20]byte
	copy(id[:], "__sale_token__")
	return id
}

// SaleTokenAsset exposes the custody identifier for wiring and tests.
func SaleTokenAsset() [20]byte { return saleTokenAsset() }
