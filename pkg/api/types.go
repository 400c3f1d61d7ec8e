package api

// Request/response types for the REST surface. Amounts are integer base
// units; prices are integer ticks of the quote asset per base unit.

type CreateEscrowRequest struct {
	SellAsset  string `json:"sellAsset"`
	SellAmount int64  `json:"sellAmount"`
	BuyAsset   string `json:"buyAsset"`
	BuyAmount  int64  `json:"buyAmount"`
	Deadline   uint64 `json:"deadline"`
}

type SubmitPoolOrderRequest struct {
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	Side       string `json:"side"` // "buy" | "sell"
	Kind       string `json:"kind"` // "MARKET" | "LIMIT" | "IOC"
	Amount     int64  `json:"amount"`
	LimitPrice int64  `json:"limitPrice"` // 0 = no constraint
	Expiry     uint64 `json:"expiry"`
}

type MatchRequest struct {
	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId"`
	Price       int64  `json:"price"`
}

type OrderIDResponse struct {
	OrderID string `json:"orderId"`
}

type EscrowOrderResponse struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	SellAsset  string `json:"sellAsset"`
	SellAmount int64  `json:"sellAmount"`
	BuyAsset   string `json:"buyAsset"`
	BuyAmount  int64  `json:"buyAmount"`
	Deadline   uint64 `json:"deadline"`
	Status     string `json:"status"`
}

type PoolOrderResponse struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	Base             string `json:"base"`
	Quote            string `json:"quote"`
	Side             string `json:"side"`
	Kind             string `json:"kind"`
	Amount           int64  `json:"amount"`
	LimitPrice       int64  `json:"limitPrice"`
	Filled           int64  `json:"filled"`
	Remaining        int64  `json:"remaining"`
	LockedCollateral int64  `json:"lockedCollateral"`
	CreatedSeq       uint64 `json:"createdSeq"`
	Expiry           uint64 `json:"expiry"`
	Status           string `json:"status"`
}

type MatchResponse struct {
	SettlementID string `json:"settlementId"`
	Price        int64  `json:"price"`
	MatchAmount  int64  `json:"matchAmount"`
	QuoteAmount  int64  `json:"quoteAmount"`
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
}

type SetFeesRequest struct {
	EscrowFeeBps *int64 `json:"escrowFeeBps,omitempty"`
	TakerFeeBps  *int64 `json:"takerFeeBps,omitempty"`
	MakerFeeBps  *int64 `json:"makerFeeBps,omitempty"`
}

type SetPausedRequest struct {
	Paused bool `json:"paused"`
}

type SetPairRequest struct {
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Supported bool   `json:"supported"`
}

type SetMinSizeRequest struct {
	Asset   string `json:"asset"`
	MinSize int64  `json:"minSize"`
}

type SetFeeRecipientRequest struct {
	Recipient string `json:"recipient"`
}

type SetMarketBufferRequest struct {
	Bps int64 `json:"bps"`
}

type FundRequest struct {
	Party  string `json:"party"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type BalanceResponse struct {
	Party   string `json:"party"`
	Asset   string `json:"asset"`
	Balance int64  `json:"balance"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// WSSubscribeRequest is a client subscription message on the websocket.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// WSSettlementMessage is broadcast on the "settlements" channel (and on
// "settlements:<address>" for each counterparty).
type WSSettlementMessage struct {
	Channel    string      `json:"channel"`
	Settlement interface{} `json:"settlement"`
}
