package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/darkpool/pkg/ids"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide maps "buy"/"sell" to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "BUY":
		return Buy, true
	case "sell", "SELL":
		return Sell, true
	default:
		return 0, false
	}
}

// OrderKind selects the price constraint of a pool order.
// MARKET accepts any execution price. LIMIT constrains it. IOC is a
// limit order that expires as soon as the sequence advances past its
// submission, so it can only ever match "now".
type OrderKind int8

const (
	Market OrderKind = iota + 1
	Limit
	IOC
)

func (k OrderKind) String() string {
	switch k {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case IOC:
		return "IOC"
	default:
		return "unknown"
	}
}

// ParseOrderKind maps "MARKET"/"LIMIT"/"IOC" to an OrderKind.
func ParseOrderKind(s string) (OrderKind, bool) {
	switch s {
	case "MARKET", "market":
		return Market, true
	case "LIMIT", "limit":
		return Limit, true
	case "IOC", "ioc":
		return IOC, true
	default:
		return 0, false
	}
}

// OrderStatus is the lifecycle state of an order record.
type OrderStatus int8

const (
	StatusLive OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// EscrowOrder is a bilateral order: the owner locked SellAmount of
// SellAsset and will accept BuyAmount of BuyAsset for it, until Deadline.
// The record is consumed exactly once, by fill or cancel.
type EscrowOrder struct {
	ID         ids.ID         `json:"-"`
	Owner      common.Address `json:"owner"`
	SellAsset  string         `json:"sellAsset"`
	SellAmount int64          `json:"sellAmount"`
	BuyAsset   string         `json:"buyAsset"`
	BuyAmount  int64          `json:"buyAmount"`
	Deadline   uint64         `json:"deadline"`
	Nonce      uint64         `json:"nonce"`
	Status     OrderStatus    `json:"status"`
}

// Live reports whether the order can still be filled at seq.
func (o *EscrowOrder) Live() bool {
	return o.Status == StatusLive
}

// Expired reports lazy expiry against the current sequence.
func (o *EscrowOrder) Expired(seq uint64) bool {
	return seq > o.Deadline
}

// PoolOrder is a multilateral order resting in the pool.
//
// Filled never exceeds Amount. LockedCollateral tracks the collateral
// actually still held for this order, which is what a cancel refunds; it
// is NOT recomputed from the nominal amount (market buys lock a buffered
// figure, limit buys consume less than limit price per fill).
//
// Version advances by one on every partial fill. Consuming version v is
// spending nullifier(id, v): two matches racing on the same order version
// cannot both land.
type PoolOrder struct {
	ID               ids.ID         `json:"-"`
	Owner            common.Address `json:"owner"`
	Base             string         `json:"base"`
	Quote            string         `json:"quote"`
	Side             Side           `json:"side"`
	Kind             OrderKind      `json:"kind"`
	Amount           int64          `json:"amount"`
	LimitPrice       int64          `json:"limitPrice"` // 0 = no constraint
	Filled           int64          `json:"filled"`
	LockedCollateral int64          `json:"lockedCollateral"`
	CreatedSeq       uint64         `json:"createdSeq"`
	Expiry           uint64         `json:"expiry"`
	Version          uint64         `json:"version"`
	Nonce            uint64         `json:"nonce"`
	Status           OrderStatus    `json:"status"`
}

// Remaining is the unfilled nominal amount.
func (o *PoolOrder) Remaining() int64 {
	return o.Amount - o.Filled
}

// Active reports whether the order can participate in a match at seq.
// Expiry is evaluated lazily here; there is no background sweep.
func (o *PoolOrder) Active(seq uint64) bool {
	if o.Status == StatusFilled || o.Status == StatusCancelled {
		return false
	}
	return o.Remaining() > 0 && seq <= o.Expiry
}

// CollateralAsset is the asset this order locked.
func (o *PoolOrder) CollateralAsset() string {
	if o.Side == Buy {
		return o.Quote
	}
	return o.Base
}

// Settlement is an immutable audit entry for one completed fill or match.
// A copy is attributed to each counterparty for their own query scope.
type Settlement struct {
	ID          string         `json:"id"`
	Seq         uint64         `json:"seq"`
	Kind        string         `json:"kind"` // "escrow_fill" or "pool_match"
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	BuyOrderID  string         `json:"buyOrderId,omitempty"`
	SellOrderID string         `json:"sellOrderId,omitempty"`
	BaseAsset   string         `json:"baseAsset"`
	QuoteAsset  string         `json:"quoteAsset"`
	Price       int64          `json:"price,omitempty"`
	BaseAmount  int64          `json:"baseAmount"`
	QuoteAmount int64          `json:"quoteAmount"`
	BuyerRecv   int64          `json:"buyerReceived"`
	SellerRecv  int64          `json:"sellerReceived"`
	BaseFee     int64          `json:"baseFee"`
	QuoteFee    int64          `json:"quoteFee"`
}

// MatchResult reports what a successful Match executed.
type MatchResult struct {
	Settlement  *Settlement
	MatchAmount int64
	QuoteAmount int64
	Price       int64
	MakerID     ids.ID
	TakerID     ids.ID
}

// Stats is a snapshot of the engine's global counters.
type Stats struct {
	Sequence    uint64 `json:"sequence"`
	LiveOrders  int64  `json:"liveOrders"`
	TotalVolume int64  `json:"totalVolume"`
	MatchCount  int64  `json:"matchCount"`
	Paused      bool   `json:"paused"`
}
