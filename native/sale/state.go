package sale

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/storage"
)

var (
	planPrefix     = []byte("sale/plan/")
	assetPrefix    = []byte("sale/asset/")
	purchasePrefix = []byte("sale/purchase/")
	balancePrefix  = []byte("sale/balance/")
)

// State persists the sale ledger into a key-value store under typed prefixes.
// It implements both the engine state interface and the custody balance store.
type State struct {
	db storage.Database
}

// NewState binds the ledger state to the provided storage backend.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

func planKey(id uint32) []byte {
	key := make([]byte, 0, len(planPrefix)+4)
	key = append(key, planPrefix...)
	return binary.BigEndian.AppendUint32(key, id)
}

func assetKey(asset [20]byte) []byte {
	key := make([]byte, 0, len(assetPrefix)+20)
	key = append(key, assetPrefix...)
	return append(key, asset[:]...)
}

func purchaseKey(planID uint32, buyer [20]byte) []byte {
	key := make([]byte, 0, len(purchasePrefix)+4+20)
	key = append(key, purchasePrefix...)
	key = binary.BigEndian.AppendUint32(key, planID)
	return append(key, buyer[:]...)
}

func balanceKey(owner [20]byte, asset [20]byte) []byte {
	key := make([]byte, 0, len(balancePrefix)+40)
	key = append(key, balancePrefix...)
	key = append(key, owner[:]...)
	return append(key, asset[:]...)
}

// RLP cannot carry signed integers or maps, so the stored shadows use uint64
// timestamps and sorted entry lists.

type storedPlan struct {
	ID             uint32
	DiscountBps    uint32
	BonusBps       uint32
	StartTime      uint64
	EndTime        uint64
	LockDuration   uint64
	TotalInvestors uint64
	TokensSold     *big.Int
}

type storedAsset struct {
	Asset       [20]byte
	Symbol      string
	Supported   bool
	MinPerUser  *big.Int
	MaxPerUser  *big.Int
	HardCap     *big.Int
	TotalRaised *big.Int
}

type spendEntry struct {
	Asset  [20]byte
	Amount *big.Int
}

type storedPurchase struct {
	PlanID         uint32
	Buyer          [20]byte
	PurchaseTime   uint64
	AmountSpent    []spendEntry
	TokensReceived *big.Int
	Claimed        bool
}

func (s *State) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("sale state: encode %q: %w", key, err)
	}
	return s.db.Put(key, encoded)
}

func (s *State) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("sale state: decode %q: %w", key, err)
	}
	return true, nil
}

// PlanPut stores the plan record.
func (s *State) PlanPut(plan *Plan) error {
	if plan == nil {
		return fmt.Errorf("sale state: nil plan")
	}
	return s.put(planKey(plan.ID), &storedPlan{
		ID:             plan.ID,
		DiscountBps:    plan.DiscountBps,
		BonusBps:       plan.BonusBps,
		StartTime:      uint64(plan.StartTime),
		EndTime:        uint64(plan.EndTime),
		LockDuration:   uint64(plan.LockDuration),
		TotalInvestors: plan.TotalInvestors,
		TokensSold:     cloneBigInt(plan.TokensSold),
	})
}

// PlanGet loads the plan record for the id.
func (s *State) PlanGet(id uint32) (*Plan, bool, error) {
	var stored storedPlan
	ok, err := s.get(planKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Plan{
		ID:             stored.ID,
		DiscountBps:    stored.DiscountBps,
		BonusBps:       stored.BonusBps,
		StartTime:      int64(stored.StartTime),
		EndTime:        int64(stored.EndTime),
		LockDuration:   int64(stored.LockDuration),
		TotalInvestors: stored.TotalInvestors,
		TokensSold:     cloneBigInt(stored.TokensSold),
	}, true, nil
}

// AssetPut stores the payment asset record.
func (s *State) AssetPut(asset *PaymentAsset) error {
	if asset == nil {
		return fmt.Errorf("sale state: nil payment asset")
	}
	return s.put(assetKey(asset.Asset), &storedAsset{
		Asset:       asset.Asset,
		Symbol:      asset.Symbol,
		Supported:   asset.Supported,
		MinPerUser:  cloneBigInt(asset.MinPerUser),
		MaxPerUser:  cloneBigInt(asset.MaxPerUser),
		HardCap:     cloneBigInt(asset.HardCap),
		TotalRaised: cloneBigInt(asset.TotalRaised),
	})
}

// AssetGet loads the payment asset record for the identifier.
func (s *State) AssetGet(asset [20]byte) (*PaymentAsset, bool, error) {
	var stored storedAsset
	ok, err := s.get(assetKey(asset), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &PaymentAsset{
		Asset:       stored.Asset,
		Symbol:      stored.Symbol,
		Supported:   stored.Supported,
		MinPerUser:  cloneBigInt(stored.MinPerUser),
		MaxPerUser:  cloneBigInt(stored.MaxPerUser),
		HardCap:     cloneBigInt(stored.HardCap),
		TotalRaised: cloneBigInt(stored.TotalRaised),
	}, true, nil
}

// PurchasePut stores the purchase record for its (plan, buyer) key.
func (s *State) PurchasePut(purchase *Purchase) error {
	if purchase == nil {
		return fmt.Errorf("sale state: nil purchase")
	}
	spends := make([]spendEntry, 0, len(purchase.AmountSpent))
	for asset, amt := range purchase.AmountSpent {
		spends = append(spends, spendEntry{Asset: asset, Amount: cloneBigInt(amt)})
	}
	sort.Slice(spends, func(i, j int) bool {
		return bytes.Compare(spends[i].Asset[:], spends[j].Asset[:]) < 0
	})
	return s.put(purchaseKey(purchase.PlanID, purchase.Buyer), &storedPurchase{
		PlanID:         purchase.PlanID,
		Buyer:          purchase.Buyer,
		PurchaseTime:   uint64(purchase.PurchaseTime),
		AmountSpent:    spends,
		TokensReceived: cloneBigInt(purchase.TokensReceived),
		Claimed:        purchase.Claimed,
	})
}

// PurchaseGet loads the purchase record for the pair.
func (s *State) PurchaseGet(planID uint32, buyer [20]byte) (*Purchase, bool, error) {
	var stored storedPurchase
	ok, err := s.get(purchaseKey(planID, buyer), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	spends := make(map[[20]byte]*big.Int, len(stored.AmountSpent))
	for _, entry := range stored.AmountSpent {
		spends[entry.Asset] = cloneBigInt(entry.Amount)
	}
	return &Purchase{
		PlanID:         stored.PlanID,
		Buyer:          stored.Buyer,
		PurchaseTime:   int64(stored.PurchaseTime),
		AmountSpent:    spends,
		TokensReceived: cloneBigInt(stored.TokensReceived),
		Claimed:        stored.Claimed,
	}, true, nil
}

// BalanceGet loads the custody book balance for (owner, asset). Missing keys
// read as zero.
func (s *State) BalanceGet(owner [20]byte, asset [20]byte) (*big.Int, error) {
	var stored big.Int
	ok, err := s.get(balanceKey(owner, asset), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return &stored, nil
}

// BalancePut stores the custody book balance for (owner, asset).
func (s *State) BalancePut(owner [20]byte, asset [20]byte, amount *big.Int) error {
	return s.put(balanceKey(owner, asset), cloneBigInt(amount))
}
