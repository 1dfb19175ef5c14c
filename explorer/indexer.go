// Package explorer persists sale ledger events into a relational store for
// off-chain queries. It is observability plumbing: the ledger never reads it
// back and correctness does not depend on it.
package explorer

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"tokensale/core/events"
	"tokensale/native/sale"
)

// PurchaseRow is one accepted purchase as seen by the indexer.
type PurchaseRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	PlanID    uint32 `gorm:"index"`
	Asset     string `gorm:"size:40;index"`
	Buyer     string `gorm:"size:40;index"`
	Amount    string
	Tokens    string
	Timestamp int64
	CreatedAt time.Time
}

// ClaimRow is one released claim as seen by the indexer.
type ClaimRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	PlanID    uint32 `gorm:"index"`
	Buyer     string `gorm:"size:40;index"`
	Payout    string
	Timestamp int64
	CreatedAt time.Time
}

// Indexer satisfies events.Emitter and writes purchase and claim events into
// SQLite. Unknown event types are ignored.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open creates or opens the index database at path and migrates the schema.
func Open(path string, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("explorer: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&PurchaseRow{}, &ClaimRow{}); err != nil {
		return nil, fmt.Errorf("explorer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: logger}, nil
}

var _ events.Emitter = (*Indexer)(nil)

// Emit implements events.Emitter. Indexing failures are logged, never
// propagated: a broken index must not abort ledger operations.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || evt == nil {
		return
	}
	switch e := evt.(type) {
	case sale.PurchaseEvent:
		row := &PurchaseRow{
			ID:        uuid.NewString(),
			PlanID:    e.PlanID,
			Asset:     hex.EncodeToString(e.Asset[:]),
			Buyer:     hex.EncodeToString(e.Buyer[:]),
			Amount:    e.Amount.String(),
			Tokens:    e.Tokens.String(),
			Timestamp: e.Timestamp,
		}
		if err := ix.db.Create(row).Error; err != nil {
			ix.logger.Error("index purchase event", "err", err)
		}
	case sale.ClaimEvent:
		row := &ClaimRow{
			ID:        uuid.NewString(),
			PlanID:    e.PlanID,
			Buyer:     hex.EncodeToString(e.Buyer[:]),
			Payout:    e.Payout.String(),
			Timestamp: e.Timestamp,
		}
		if err := ix.db.Create(row).Error; err != nil {
			ix.logger.Error("index claim event", "err", err)
		}
	}
}

// PurchasesByPlan returns indexed purchases for a plan, newest first.
func (ix *Indexer) PurchasesByPlan(planID uint32) ([]PurchaseRow, error) {
	var rows []PurchaseRow
	err := ix.db.Where("plan_id = ?", planID).Order("timestamp desc").Find(&rows).Error
	return rows, err
}

// ClaimsByBuyer returns indexed claims for a buyer, newest first.
func (ix *Indexer) ClaimsByBuyer(buyer string) ([]ClaimRow, error) {
	var rows []ClaimRow
	err := ix.db.Where("buyer = ?", buyer).Order("timestamp desc").Find(&rows).Error
	return rows, err
}
