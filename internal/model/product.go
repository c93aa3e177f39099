package model

import "time"

// Product is an inventory item type tracked by on-hand quantity.
//
// ID is the internal handle that handovers reference; Seq is the human-facing
// number, kept dense (1..N) by compaction after deletions.
type Product struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	Category    string    `json:"category,omitempty"`
	Stock       Stock     `json:"stock"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stock holds the ledger fields of a product. MinStock and MaxStock are
// advisory and never enforced.
type Stock struct {
	Quantity      int        `json:"quantity"`
	MinStock      int        `json:"min_stock"`
	MaxStock      int        `json:"max_stock"`
	LastRestocked *time.Time `json:"last_restocked,omitempty"`
}

// Low reports whether the quantity is at or below the minimum.
func (s Stock) Low() bool {
	return s.Quantity <= s.MinStock
}
