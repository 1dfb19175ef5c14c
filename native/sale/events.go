package sale

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

const (
	EventTypePurchaseAccepted = "sale.purchase_accepted"
	EventTypeTokensClaimed    = "sale.tokens_claimed"
	EventTypePlanUpdated      = "sale.plan_updated"
	EventTypeAssetUpdated     = "sale.asset_updated"
	EventTypeSweepExecuted    = "sale.sweep_executed"
)

// PurchaseEvent is emitted once per accepted purchase for off-chain indexers.
type PurchaseEvent struct {
	PlanID    uint32
	Asset     [20]byte
	Buyer     [20]byte
	Amount    *big.Int
	Tokens    *big.Int
	Timestamp int64
}

func (PurchaseEvent) EventType() string { return EventTypePurchaseAccepted }

// Attributes renders the event payload as flat string pairs.
func (e PurchaseEvent) Attributes() map[string]string {
	return map[string]string{
		"plan":      strconv.FormatUint(uint64(e.PlanID), 10),
		"asset":     hex.EncodeToString(e.Asset[:]),
		"buyer":     hex.EncodeToString(e.Buyer[:]),
		"amount":    bigString(e.Amount),
		"tokens":    bigString(e.Tokens),
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
	}
}

// ClaimEvent is emitted once per released claim.
type ClaimEvent struct {
	PlanID    uint32
	Buyer     [20]byte
	Payout    *big.Int
	Timestamp int64
}

func (ClaimEvent) EventType() string { return EventTypeTokensClaimed }

// Attributes renders the event payload as flat string pairs.
func (e ClaimEvent) Attributes() map[string]string {
	return map[string]string{
		"plan":      strconv.FormatUint(uint64(e.PlanID), 10),
		"buyer":     hex.EncodeToString(e.Buyer[:]),
		"payout":    bigString(e.Payout),
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
	}
}

// PlanUpdatedEvent is emitted when the administrator rewrites plan terms.
type PlanUpdatedEvent struct {
	PlanID    uint32
	Timestamp int64
}

func (PlanUpdatedEvent) EventType() string { return EventTypePlanUpdated }

// AssetUpdatedEvent is emitted when the administrator rewrites asset terms.
type AssetUpdatedEvent struct {
	Asset     [20]byte
	Timestamp int64
}

func (AssetUpdatedEvent) EventType() string { return EventTypeAssetUpdated }

// SweepEvent is emitted on every administrator custody sweep.
type SweepEvent struct {
	Asset     [20]byte
	Recipient [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (SweepEvent) EventType() string { return EventTypeSweepExecuted }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
