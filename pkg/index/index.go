// Package index mirrors order metadata to an off-chain store for
// discovery. The mirror is not authoritative (the ledger is) and is
// strictly best-effort: callers log failures and never propagate them
// into core operations.
package index

import "context"

// OrderMeta is the discoverable projection of an order.
type OrderMeta struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Venue      string `json:"venue"` // "escrow" or "pool"
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	Side       string `json:"side,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Amount     int64  `json:"amount"`
	LimitPrice int64  `json:"limitPrice,omitempty"`
	Status     string `json:"status"`
	FillPct    int64  `json:"fillPct"` // 0..100
	CreatedSeq uint64 `json:"createdSeq"`
	Expiry     uint64 `json:"expiry"`
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	Venue string
	Base  string
	Quote string
	Side  string
	Owner string
}

// MaxListLimit bounds a single List page.
const MaxListLimit = 100

// Indexer is the order-discovery mirror contract.
type Indexer interface {
	CreateRecord(ctx context.Context, meta OrderMeta) error
	Get(ctx context.Context, id string) (*OrderMeta, error)
	List(ctx context.Context, f ListFilter, limit int) ([]OrderMeta, error)
	UpdateStatus(ctx context.Context, id, status string, fillPct int64) error
	Cancel(ctx context.Context, id string) error
}

// Noop is the Indexer used when no mirror backend is configured.
type Noop struct{}

func (Noop) CreateRecord(context.Context, OrderMeta) error          { return nil }
func (Noop) Get(context.Context, string) (*OrderMeta, error)        { return nil, nil }
func (Noop) List(context.Context, ListFilter, int) ([]OrderMeta, error) { return nil, nil }
func (Noop) UpdateStatus(context.Context, string, string, int64) error  { return nil }
func (Noop) Cancel(context.Context, string) error                   { return nil }
