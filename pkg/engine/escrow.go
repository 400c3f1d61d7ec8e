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

// CreateOrder locks sellAmount of sellAsset from the caller into custody
// and stores a live escrow order. Deadline is a future sequence marker.
func (e *Engine) CreateOrder(caller common.Address, sellAsset string, sellAmount int64, buyAsset string, buyAmount int64, deadline uint64) (ids.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Paused() {
		return ids.ID{}, ErrPaused
	}
	if sellAmount <= 0 || buyAmount <= 0 {
		return ids.ID{}, fmt.Errorf("%w: sell=%d buy=%d", ErrInvalidAmount, sellAmount, buyAmount)
	}
	if deadline <= e.seq {
		return ids.ID{}, fmt.Errorf("%w: deadline %d not after sequence %d", ErrExpired, deadline, e.seq)
	}

	batch := ledger.NewBatch()
	nonce := e.nextNonce(batch)
	id := ids.EscrowOrderID(caller, sellAsset, buyAsset, nonce)
	if _, exists := e.escrows[id]; exists {
		return ids.ID{}, fmt.Errorf("escrow order id collision: %s", id.Hex())
	}

	order := &EscrowOrder{
		ID:         id,
		Owner:      caller,
		SellAsset:  sellAsset,
		SellAmount: sellAmount,
		BuyAsset:   buyAsset,
		BuyAmount:  buyAmount,
		Deadline:   deadline,
		Nonce:      nonce,
		Status:     StatusLive,
	}
	batch.PutRecord(id, marshalEscrow(order))
	batch.AddCounter(counterLiveOrders, 1)

	req := &commitRequest{
		batch: batch,
		moves: []vault.Move{
			{Asset: sellAsset, Kind: vault.LockKind, Party: caller, Amount: sellAmount},
		},
		post: []func(){func() {
			e.orderNonce = nonce
			e.liveOrders++
			e.escrows[id] = order
		}},
	}
	if err := e.apply(req); err != nil {
		return ids.ID{}, err
	}

	e.log.Info("escrow order created",
		zap.String("id", id.Hex()),
		zap.String("owner", caller.Hex()),
		zap.String("sell", sellAsset), zap.Int64("sellAmount", sellAmount),
		zap.String("buy", buyAsset), zap.Int64("buyAmount", buyAmount),
		zap.Uint64("deadline", deadline))

	createdSeq := e.seq
	e.mirror("create", func(ctx context.Context) error {
		return e.index.CreateRecord(ctx, index.OrderMeta{
			ID:         id.Hex(),
			Owner:      caller.Hex(),
			Venue:      "escrow",
			Base:       sellAsset,
			Quote:      buyAsset,
			Amount:     sellAmount,
			Status:     StatusLive.String(),
			CreatedSeq: createdSeq,
			Expiry:     deadline,
		})
	})
	return id, nil
}

// FillOrder consumes a live escrow order exactly once. The filler pays
// BuyAmount of the buy asset to the owner and receives SellAmount of the
// sell asset minus the fill fee; the fee goes to the fee recipient. A
// second fill attempt fails because the record's spent marker exists.
func (e *Engine) FillOrder(caller common.Address, id ids.ID) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}
	if !order.Live() {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyFilled, id.Hex(), order.Status)
	}
	if caller == order.Owner {
		return nil, ErrSelfFill
	}
	if order.Expired(e.seq) {
		return nil, fmt.Errorf("%w: deadline %d, sequence %d", ErrExpired, order.Deadline, e.seq)
	}

	fee := order.SellAmount * e.cfg.EscrowFeeBps() / 10000
	settlement := &Settlement{
		ID:          uuid.NewString(),
		Seq:         e.seq,
		Kind:        "escrow_fill",
		Buyer:       caller,
		Seller:      order.Owner,
		SellOrderID: id.Hex(),
		BaseAsset:   order.SellAsset,
		QuoteAsset:  order.BuyAsset,
		BaseAmount:  order.SellAmount,
		QuoteAmount: order.BuyAmount,
		BuyerRecv:   order.SellAmount - fee,
		SellerRecv:  order.BuyAmount,
		BaseFee:     fee,
	}
	payload, err := json.Marshal(settlement)
	if err != nil {
		return nil, fmt.Errorf("marshal settlement: %w", err)
	}

	filled := *order
	filled.Status = StatusFilled

	batch := ledger.NewBatch().
		Spend(ids.RecordNullifier(id)).
		PutRecord(id, marshalEscrow(&filled)).
		AppendSettlement([]common.Address{caller, order.Owner}, e.seq, settlement.ID, payload).
		AddCounter(counterLiveOrders, -1).
		AddCounter(counterTotalVolume, order.SellAmount)

	req := &commitRequest{
		batch: batch,
		moves: []vault.Move{
			{Asset: order.BuyAsset, Kind: vault.LockKind, Party: caller, Amount: order.BuyAmount},
			{Asset: order.BuyAsset, Kind: vault.ReleaseKind, Party: order.Owner, Amount: order.BuyAmount},
			{Asset: order.SellAsset, Kind: vault.ReleaseKind, Party: caller, Amount: order.SellAmount - fee},
			{Asset: order.SellAsset, Kind: vault.ReleaseKind, Party: e.cfg.FeeRecipient(), Amount: fee},
		},
		settlement: settlement,
		post: []func(){func() {
			order.Status = StatusFilled
			e.liveOrders--
			e.totalVolume += order.SellAmount
		}},
	}
	if err := e.apply(req); err != nil {
		return nil, err
	}

	e.log.Info("escrow order filled",
		zap.String("id", id.Hex()),
		zap.String("filler", caller.Hex()),
		zap.Int64("fee", fee))

	e.mirror("fill", func(ctx context.Context) error {
		return e.index.UpdateStatus(ctx, id.Hex(), StatusFilled.String(), 100)
	})
	return settlement, nil
}

// CancelOrder returns the full locked sell amount to the owner and
// consumes the record. Works under pause and after expiry; a filled or
// cancelled order cannot be cancelled again.
func (e *Engine) CancelOrder(caller common.Address, id ids.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.escrows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}
	if caller != order.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if !order.Live() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFilled, id.Hex(), order.Status)
	}

	cancelled := *order
	cancelled.Status = StatusCancelled

	batch := ledger.NewBatch().
		Spend(ids.RecordNullifier(id)).
		PutRecord(id, marshalEscrow(&cancelled)).
		AddCounter(counterLiveOrders, -1)

	req := &commitRequest{
		batch: batch,
		moves: []vault.Move{
			{Asset: order.SellAsset, Kind: vault.ReleaseKind, Party: order.Owner, Amount: order.SellAmount},
		},
		post: []func(){func() {
			order.Status = StatusCancelled
			e.liveOrders--
		}},
	}
	if err := e.apply(req); err != nil {
		return err
	}

	e.log.Info("escrow order cancelled", zap.String("id", id.Hex()))
	e.mirror("cancel", func(ctx context.Context) error {
		return e.index.Cancel(ctx, id.Hex())
	})
	return nil
}
