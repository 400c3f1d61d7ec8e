package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool/pkg/ids"
	"github.com/uhyunpark/darkpool/pkg/index"
	"github.com/uhyunpark/darkpool/pkg/ledger"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

// SubmitOrder locks collateral and stores an active pool order.
//
// BUY LIMIT locks amount × limitPrice of the quote asset. BUY MARKET
// locks against the best observable sell limit price plus the configured
// safety buffer; the actually locked figure is tracked on the order so a
// later cancel refunds exactly. SELL locks amount of the base asset.
func (e *Engine) SubmitOrder(caller common.Address, base, quote string, side Side, kind OrderKind, amount, limitPrice int64, expiry uint64) (ids.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Paused() {
		return ids.ID{}, ErrPaused
	}
	if !e.cfg.PairSupported(base, quote) {
		return ids.ID{}, fmt.Errorf("%w: %s/%s", ErrPairNotSupported, base, quote)
	}
	if amount <= 0 {
		return ids.ID{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if min := e.cfg.MinOrderSize(base); amount < min {
		return ids.ID{}, fmt.Errorf("%w: %d < %d %s", ErrBelowMinimumSize, amount, min, base)
	}
	if limitPrice < 0 {
		return ids.ID{}, fmt.Errorf("%w: negative limit price", ErrPriceRejected)
	}
	switch kind {
	case Market:
		if limitPrice != 0 {
			return ids.ID{}, fmt.Errorf("%w: market order carries a limit price", ErrPriceRejected)
		}
	case Limit, IOC:
		if limitPrice == 0 {
			return ids.ID{}, fmt.Errorf("%w: %s order requires a limit price", ErrPriceRejected, kind)
		}
	default:
		return ids.ID{}, fmt.Errorf("unknown order kind %d", kind)
	}
	if expiry <= e.seq {
		return ids.ID{}, fmt.Errorf("%w: expiry %d not after sequence %d", ErrExpired, expiry, e.seq)
	}
	if kind == IOC {
		// IOC lives only within the current sequence.
		expiry = e.seq
	}

	var lockAsset string
	var lockAmount int64
	switch side {
	case Sell:
		lockAsset = base
		lockAmount = amount
	case Buy:
		lockAsset = quote
		if kind == Market {
			best, ok := e.bestObservableSellPrice(base, quote)
			if !ok {
				return ids.ID{}, fmt.Errorf("%w: no observable price for market buy on %s/%s", ErrPriceRejected, base, quote)
			}
			buffered := best * (10000 + e.cfg.MarketBufferBps()) / 10000
			lockAmount = amount * buffered
		} else {
			lockAmount = amount * limitPrice
		}
	default:
		return ids.ID{}, fmt.Errorf("unknown side %d", side)
	}

	batch := ledger.NewBatch()
	nonce := e.nextNonce(batch)
	id := ids.PoolOrderID(caller, base, quote, int8(side), nonce)
	if _, exists := e.pools[id]; exists {
		return ids.ID{}, fmt.Errorf("pool order id collision: %s", id.Hex())
	}

	order := &PoolOrder{
		ID:               id,
		Owner:            caller,
		Base:             base,
		Quote:            quote,
		Side:             side,
		Kind:             kind,
		Amount:           amount,
		LimitPrice:       limitPrice,
		LockedCollateral: lockAmount,
		CreatedSeq:       e.seq,
		Expiry:           expiry,
		Nonce:            nonce,
		Status:           StatusLive,
	}
	batch.PutRecord(id, marshalPool(order))
	batch.AddCounter(counterLiveOrders, 1)

	req := &commitRequest{
		batch: batch,
		moves: []vault.Move{
			{Asset: lockAsset, Kind: vault.LockKind, Party: caller, Amount: lockAmount},
		},
		post: []func(){func() {
			e.orderNonce = nonce
			e.liveOrders++
			e.pools[id] = order
		}},
	}
	if err := e.apply(req); err != nil {
		return ids.ID{}, err
	}

	e.log.Info("pool order submitted",
		zap.String("id", id.Hex()),
		zap.String("owner", caller.Hex()),
		zap.String("pair", base+"/"+quote),
		zap.String("side", side.String()),
		zap.String("kind", kind.String()),
		zap.Int64("amount", amount),
		zap.Int64("limitPrice", limitPrice),
		zap.Int64("locked", lockAmount))

	meta := index.OrderMeta{
		ID:         id.Hex(),
		Owner:      caller.Hex(),
		Venue:      "pool",
		Base:       base,
		Quote:      quote,
		Side:       side.String(),
		Kind:       kind.String(),
		Amount:     amount,
		LimitPrice: limitPrice,
		Status:     StatusLive.String(),
		CreatedSeq: order.CreatedSeq,
		Expiry:     expiry,
	}
	e.mirror("submit", func(ctx context.Context) error {
		return e.index.CreateRecord(ctx, meta)
	})
	return id, nil
}

// MidpointPrice is the engine's documented pricing rule, exposed for
// keepers: midpoint of both limits when both sides are limit orders, the
// single limit price when exactly one side constrains, 0 when neither
// does (such a pair cannot be matched anyway).
func (e *Engine) MidpointPrice(buyID, sellID ids.ID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buy, ok := e.pools[buyID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrOrderNotFound, buyID.Hex())
	}
	sell, ok := e.pools[sellID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrOrderNotFound, sellID.Hex())
	}
	switch {
	case buy.LimitPrice > 0 && sell.LimitPrice > 0:
		return (buy.LimitPrice + sell.LimitPrice) / 2, nil
	case buy.LimitPrice > 0:
		return buy.LimitPrice, nil
	case sell.LimitPrice > 0:
		return sell.LimitPrice, nil
	default:
		return 0, ErrBothMarketOrders
	}
}

// Match settles matchAmount = min(remaining, remaining) between a buy
// and a sell order at execPrice. Callable by any keeper, not just the
// participants. Validation runs in a fixed order and any failure reverts
// the whole call with no side effects.
//
// Each match spends the current version nullifier of both orders and
// writes the next version, so two keepers racing on the same pair have
// exactly one winner; the loser observes the orders already advanced and
// fails with ErrOrderInactive (or a spent-marker conflict at the ledger).
func (e *Engine) Match(keeper common.Address, buyID, sellID ids.ID, execPrice int64) (*MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if execPrice <= 0 {
		return nil, fmt.Errorf("%w: execution price %d", ErrPriceRejected, execPrice)
	}
	buy, ok := e.pools[buyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, buyID.Hex())
	}
	sell, ok := e.pools[sellID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, sellID.Hex())
	}
	if !buy.Active(e.seq) {
		return nil, fmt.Errorf("%w: buy %s", ErrOrderInactive, buyID.Hex())
	}
	if !sell.Active(e.seq) {
		return nil, fmt.Errorf("%w: sell %s", ErrOrderInactive, sellID.Hex())
	}
	if buy.Base != sell.Base || buy.Quote != sell.Quote {
		return nil, fmt.Errorf("%w: %s/%s vs %s/%s", ErrPairMismatch, buy.Base, buy.Quote, sell.Base, sell.Quote)
	}
	if buy.Side != Buy || sell.Side != Sell {
		return nil, ErrSideMismatch
	}
	if buy.LimitPrice > 0 && execPrice > buy.LimitPrice {
		return nil, fmt.Errorf("%w: %d above buy limit %d", ErrPriceRejected, execPrice, buy.LimitPrice)
	}
	if sell.LimitPrice > 0 && execPrice < sell.LimitPrice {
		return nil, fmt.Errorf("%w: %d below sell limit %d", ErrPriceRejected, execPrice, sell.LimitPrice)
	}
	if buy.Kind == Market && sell.Kind == Market {
		// Two unconstrained orders have no price anchor.
		return nil, ErrBothMarketOrders
	}

	matchAmount := buy.Remaining()
	if sell.Remaining() < matchAmount {
		matchAmount = sell.Remaining()
	}
	quoteAmount := matchAmount * execPrice
	if quoteAmount > buy.LockedCollateral {
		return nil, fmt.Errorf("%w: fill needs %d quote, order locked %d", ErrPriceRejected, quoteAmount, buy.LockedCollateral)
	}

	// Maker is the earlier-submitted order; the nonce breaks same-sequence
	// ties deterministically.
	takerBps, makerBps := e.cfg.PoolFeeBps()
	buyerIsMaker := buy.CreatedSeq < sell.CreatedSeq ||
		(buy.CreatedSeq == sell.CreatedSeq && buy.Nonce < sell.Nonce)
	buyerBps, sellerBps := takerBps, makerBps
	makerID, takerID := sellID, buyID
	if buyerIsMaker {
		buyerBps, sellerBps = makerBps, takerBps
		makerID, takerID = buyID, sellID
	}

	// Fees come off each party's receiving leg, truncated.
	baseFee := matchAmount * buyerBps / 10000
	quoteFee := quoteAmount * sellerBps / 10000

	// Residual bookkeeping: spend the current version of both orders,
	// write the next. The buy side's locked collateral shrinks by the
	// exact quote consumed; a full fill releases any buffered surplus.
	nextBuy := *buy
	nextBuy.Filled += matchAmount
	nextBuy.LockedCollateral -= quoteAmount
	nextBuy.Version++
	buySurplus := int64(0)
	if nextBuy.Remaining() == 0 {
		nextBuy.Status = StatusFilled
		buySurplus = nextBuy.LockedCollateral
		nextBuy.LockedCollateral = 0
	} else {
		nextBuy.Status = StatusPartiallyFilled
	}

	nextSell := *sell
	nextSell.Filled += matchAmount
	nextSell.LockedCollateral -= matchAmount
	nextSell.Version++
	if nextSell.Remaining() == 0 {
		nextSell.Status = StatusFilled
	} else {
		nextSell.Status = StatusPartiallyFilled
	}

	settlement := &Settlement{
		ID:          uuid.NewString(),
		Seq:         e.seq,
		Kind:        "pool_match",
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		BuyOrderID:  buyID.Hex(),
		SellOrderID: sellID.Hex(),
		BaseAsset:   buy.Base,
		QuoteAsset:  buy.Quote,
		Price:       execPrice,
		BaseAmount:  matchAmount,
		QuoteAmount: quoteAmount,
		BuyerRecv:   matchAmount - baseFee,
		SellerRecv:  quoteAmount - quoteFee,
		BaseFee:     baseFee,
		QuoteFee:    quoteFee,
	}
	payload, err := json.Marshal(settlement)
	if err != nil {
		return nil, fmt.Errorf("marshal settlement: %w", err)
	}

	terminalDelta := int64(0)
	if nextBuy.Status == StatusFilled {
		terminalDelta--
	}
	if nextSell.Status == StatusFilled {
		terminalDelta--
	}

	batch := ledger.NewBatch().
		Spend(ids.VersionNullifier(buyID, buy.Version)).
		Spend(ids.VersionNullifier(sellID, sell.Version)).
		PutRecord(buyID, marshalPool(&nextBuy)).
		PutRecord(sellID, marshalPool(&nextSell)).
		AppendSettlement([]common.Address{buy.Owner, sell.Owner}, e.seq, settlement.ID, payload).
		AddCounter(counterTotalVolume, quoteAmount).
		AddCounter(counterMatchCount, 1)
	if terminalDelta != 0 {
		batch.AddCounter(counterLiveOrders, terminalDelta)
	}

	moves := []vault.Move{
		{Asset: buy.Base, Kind: vault.ReleaseKind, Party: buy.Owner, Amount: matchAmount - baseFee},
		{Asset: buy.Quote, Kind: vault.ReleaseKind, Party: sell.Owner, Amount: quoteAmount - quoteFee},
		{Asset: buy.Base, Kind: vault.ReleaseKind, Party: e.cfg.FeeRecipient(), Amount: baseFee},
		{Asset: buy.Quote, Kind: vault.ReleaseKind, Party: e.cfg.FeeRecipient(), Amount: quoteFee},
	}
	if buySurplus > 0 {
		moves = append(moves, vault.Move{Asset: buy.Quote, Kind: vault.ReleaseKind, Party: buy.Owner, Amount: buySurplus})
	}

	req := &commitRequest{
		batch:      batch,
		moves:      moves,
		settlement: settlement,
		post: []func(){func() {
			*buy = nextBuy
			*sell = nextSell
			e.totalVolume += quoteAmount
			e.matchCount++
			e.liveOrders += terminalDelta
		}},
	}
	if err := e.apply(req); err != nil {
		return nil, err
	}

	e.log.Info("pool match settled",
		zap.String("keeper", keeper.Hex()),
		zap.String("buy", buyID.Hex()),
		zap.String("sell", sellID.Hex()),
		zap.Int64("price", execPrice),
		zap.Int64("amount", matchAmount),
		zap.Int64("baseFee", baseFee),
		zap.Int64("quoteFee", quoteFee))

	buyPct, sellPct := fillPct(&nextBuy), fillPct(&nextSell)
	buyStatus, sellStatus := nextBuy.Status.String(), nextSell.Status.String()
	e.mirror("match", func(ctx context.Context) error {
		if err := e.index.UpdateStatus(ctx, buyID.Hex(), buyStatus, buyPct); err != nil {
			return err
		}
		return e.index.UpdateStatus(ctx, sellID.Hex(), sellStatus, sellPct)
	})

	return &MatchResult{
		Settlement:  settlement,
		MatchAmount: matchAmount,
		QuoteAmount: quoteAmount,
		Price:       execPrice,
		MakerID:     makerID,
		TakerID:     takerID,
	}, nil
}

// CancelPoolOrder refunds exactly the tracked remaining locked
// collateral and marks the order terminal. Owner only. An expired order
// is cancellable (lazy expiry must not trap funds); a filled or already
// cancelled one is not.
func (e *Engine) CancelPoolOrder(caller common.Address, id ids.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}
	if caller != order.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if order.Status == StatusFilled || order.Status == StatusCancelled {
		return fmt.Errorf("%w: %s is %s", ErrOrderInactive, id.Hex(), order.Status)
	}

	next := *order
	next.Status = StatusCancelled
	next.Version++
	refund := next.LockedCollateral
	next.LockedCollateral = 0

	batch := ledger.NewBatch().
		Spend(ids.VersionNullifier(id, order.Version)).
		PutRecord(id, marshalPool(&next)).
		AddCounter(counterLiveOrders, -1)

	req := &commitRequest{
		batch: batch,
		moves: []vault.Move{
			{Asset: order.CollateralAsset(), Kind: vault.ReleaseKind, Party: order.Owner, Amount: refund},
		},
		post: []func(){func() {
			*order = next
			e.liveOrders--
		}},
	}
	if err := e.apply(req); err != nil {
		return err
	}

	e.log.Info("pool order cancelled",
		zap.String("id", id.Hex()),
		zap.Int64("refund", refund))

	e.mirror("cancel", func(ctx context.Context) error {
		return e.index.Cancel(ctx, id.Hex())
	})
	return nil
}
