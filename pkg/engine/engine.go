// Package engine implements the private order escrow service and the
// pool matching engine on top of the ledger record store and the
// collateral gateway.
//
// Every operation runs in two phases: a build phase that validates the
// caller-visible preconditions and assembles one commit request (pure
// with respect to shared state), and an apply phase that executes the
// request as a single atomic unit. Either every effect lands (record
// transitions, token moves, fee transfer, counters) or none do.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool/pkg/ids"
	"github.com/uhyunpark/darkpool/pkg/index"
	"github.com/uhyunpark/darkpool/pkg/ledger"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

// Ledger counter names. Counters mutate in the same atomic batch as the
// record mutation they describe.
const (
	counterLiveOrders  = "live_orders"
	counterTotalVolume = "total_volume"
	counterMatchCount  = "match_count"
	counterOrderNonce  = "order_nonce"
	counterSequence    = "sequence"
)

const indexTimeout = 2 * time.Second

// recordEnvelope wraps an order payload with its kind so startup reload
// can route it.
type recordEnvelope struct {
	Kind   string       `json:"kind"` // "escrow" or "pool"
	Escrow *EscrowOrder `json:"escrow,omitempty"`
	Pool   *PoolOrder   `json:"pool,omitempty"`
}

// Engine owns the in-memory order state mirrored to the ledger. The
// engine mutex serializes operations the way the underlying substrate
// would serialize conflicting commits; the nullifier set remains the
// authoritative consume-once guard across restarts.
type Engine struct {
	mu  sync.Mutex
	log *zap.Logger

	ledger  *ledger.Store
	gateway vault.Gateway
	cfg     *Config
	index   index.Indexer

	seq        uint64
	orderNonce uint64

	escrows map[ids.ID]*EscrowOrder
	pools   map[ids.ID]*PoolOrder

	liveOrders  int64
	totalVolume int64
	matchCount  int64

	onSettlement func(*Settlement)
}

// Options wires an Engine.
type Options struct {
	Ledger  *ledger.Store
	Gateway vault.Gateway
	Config  *Config
	Index   index.Indexer // optional; Noop when nil
	Log     *zap.Logger   // optional
}

// New builds an Engine and reloads any persisted state from the ledger.
func New(opts Options) (*Engine, error) {
	if opts.Ledger == nil || opts.Gateway == nil || opts.Config == nil {
		return nil, fmt.Errorf("engine: ledger, gateway and config are required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	ix := opts.Index
	if ix == nil {
		ix = index.Noop{}
	}

	e := &Engine{
		log:     log.Named("engine"),
		ledger:  opts.Ledger,
		gateway: opts.Gateway,
		cfg:     opts.Config,
		index:   ix,
		escrows: make(map[ids.ID]*EscrowOrder),
		pools:   make(map[ids.ID]*PoolOrder),
	}
	if err := e.loadState(); err != nil {
		return nil, err
	}
	return e, nil
}

// loadState rebuilds the in-memory mirrors from the ledger.
func (e *Engine) loadState() error {
	for _, c := range []struct {
		name string
		dst  *int64
	}{
		{counterLiveOrders, &e.liveOrders},
		{counterTotalVolume, &e.totalVolume},
		{counterMatchCount, &e.matchCount},
	} {
		v, err := e.ledger.Counter(c.name)
		if err != nil {
			return err
		}
		*c.dst = v
	}
	nonce, err := e.ledger.Counter(counterOrderNonce)
	if err != nil {
		return err
	}
	e.orderNonce = uint64(nonce)
	seq, err := e.ledger.Counter(counterSequence)
	if err != nil {
		return err
	}
	e.seq = uint64(seq)

	return e.ledger.Records(func(id ids.ID, payload []byte) error {
		var env recordEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return fmt.Errorf("decode record %s: %w", id.Hex(), err)
		}
		switch env.Kind {
		case "escrow":
			if env.Escrow == nil {
				return fmt.Errorf("record %s: empty escrow payload", id.Hex())
			}
			env.Escrow.ID = id
			e.escrows[id] = env.Escrow
		case "pool":
			if env.Pool == nil {
				return fmt.Errorf("record %s: empty pool payload", id.Hex())
			}
			env.Pool.ID = id
			e.pools[id] = env.Pool
		default:
			return fmt.Errorf("record %s: unknown kind %q", id.Hex(), env.Kind)
		}
		return nil
	})
}

// Config exposes the admin surface.
func (e *Engine) Config() *Config {
	return e.cfg
}

// OnSettlement registers a hook invoked after each durable settlement.
// Used by the API layer to feed the websocket broadcast.
func (e *Engine) OnSettlement(fn func(*Settlement)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSettlement = fn
}

// CurrentSequence returns the engine's sequence marker (block height
// analog). Expiry is always evaluated lazily against it.
func (e *Engine) CurrentSequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// AdvanceSequence moves the sequence forward by one and persists it.
// The daemon drives this on its block cadence.
func (e *Engine) AdvanceSequence() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.Commit(ledger.NewBatch().AddCounter(counterSequence, 1)); err != nil {
		return e.seq, err
	}
	e.seq++
	return e.seq, nil
}

// nextNonce reserves a fresh uniqueness nonce. The increment is staged
// into the caller's batch so the reservation is durable with the order.
func (e *Engine) nextNonce(b *ledger.Batch) uint64 {
	b.AddCounter(counterOrderNonce, 1)
	return e.orderNonce + 1
}

func marshalEscrow(o *EscrowOrder) []byte {
	data, _ := json.Marshal(recordEnvelope{Kind: "escrow", Escrow: o})
	return data
}

func marshalPool(o *PoolOrder) []byte {
	data, _ := json.Marshal(recordEnvelope{Kind: "pool", Pool: o})
	return data
}

// mirror runs an index update in the background with a bounded timeout.
// Mirror failures are logged and never surface as core failures.
func (e *Engine) mirror(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.log.Warn("order index mirror failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

func fillPct(o *PoolOrder) int64 {
	if o.Amount == 0 {
		return 0
	}
	return o.Filled * 100 / o.Amount
}

// GetEscrowOrder returns a copy of an escrow order.
func (e *Engine) GetEscrowOrder(id ids.ID) (EscrowOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.escrows[id]
	if !ok {
		return EscrowOrder{}, false
	}
	return *o, true
}

// GetPoolOrder returns a copy of a pool order.
func (e *Engine) GetPoolOrder(id ids.ID) (PoolOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.pools[id]
	if !ok {
		return PoolOrder{}, false
	}
	return *o, true
}

// ListPoolOrders returns active orders for one side of a pair, best
// priority first: limit buys by descending price, limit sells by
// ascending price, market orders ahead of both in submission order.
func (e *Engine) ListPoolOrders(base, quote string, side Side) []PoolOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []PoolOrder
	for _, o := range e.pools {
		if o.Base != base || o.Quote != quote || o.Side != side {
			continue
		}
		if !o.Active(e.seq) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		aMkt := a.LimitPrice == 0
		bMkt := b.LimitPrice == 0
		if aMkt != bMkt {
			return aMkt // market orders first
		}
		if aMkt {
			return a.CreatedSeq < b.CreatedSeq
		}
		if a.LimitPrice != b.LimitPrice {
			if side == Buy {
				return a.LimitPrice > b.LimitPrice
			}
			return a.LimitPrice < b.LimitPrice
		}
		return a.CreatedSeq < b.CreatedSeq
	})
	return out
}

// bestObservableSellPrice is the lowest limit price among active sell
// orders on the pair; used to size market-buy collateral locks.
// Holds e.mu.
func (e *Engine) bestObservableSellPrice(base, quote string) (int64, bool) {
	best := int64(0)
	for _, o := range e.pools {
		if o.Base != base || o.Quote != quote || o.Side != Sell || o.LimitPrice == 0 {
			continue
		}
		if !o.Active(e.seq) {
			continue
		}
		if best == 0 || o.LimitPrice < best {
			best = o.LimitPrice
		}
	}
	return best, best > 0
}

// Stats returns a snapshot of the global counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Sequence:    e.seq,
		LiveOrders:  e.liveOrders,
		TotalVolume: e.totalVolume,
		MatchCount:  e.matchCount,
		Paused:      e.cfg.Paused(),
	}
}

// Settlements returns up to limit settlements attributed to party.
func (e *Engine) Settlements(party common.Address, limit int) ([]Settlement, error) {
	payloads, err := e.ledger.Settlements(party, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Settlement, 0, len(payloads))
	for _, p := range payloads {
		var s Settlement
		if err := json.Unmarshal(p, &s); err != nil {
			return nil, fmt.Errorf("decode settlement: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
