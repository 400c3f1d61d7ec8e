package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps caps every fee parameter at 1%. Enforced at construction and
// on every admin update; a rejected update leaves the prior value intact.
const MaxFeeBps = 100

// Config is the engine's admin surface. The admin identity is fixed at
// construction and never reassignable; every mutating call re-checks the
// caller against it.
type Config struct {
	mu sync.RWMutex

	admin        common.Address
	feeRecipient common.Address

	escrowFeeBps    int64
	takerFeeBps     int64
	makerFeeBps     int64
	marketBufferBps int64 // safety buffer over best observable price for market-buy locks

	paused bool

	pairs   map[string]bool  // "BASE/QUOTE" → whitelisted
	minSize map[string]int64 // asset → minimum order size
}

// ConfigParams seeds a Config.
type ConfigParams struct {
	Admin           common.Address
	FeeRecipient    common.Address
	EscrowFeeBps    int64
	TakerFeeBps     int64
	MakerFeeBps     int64
	MarketBufferBps int64
}

// NewConfig validates the seed parameters and builds the Config.
func NewConfig(p ConfigParams) (*Config, error) {
	if p.Admin == (common.Address{}) {
		return nil, fmt.Errorf("admin address must be set")
	}
	for _, bps := range []int64{p.EscrowFeeBps, p.TakerFeeBps, p.MakerFeeBps} {
		if bps < 0 || bps > MaxFeeBps {
			return nil, fmt.Errorf("%w: %d bps (max %d)", ErrFeeTooHigh, bps, MaxFeeBps)
		}
	}
	if p.MarketBufferBps < 0 {
		return nil, fmt.Errorf("market buffer must be non-negative, got %d", p.MarketBufferBps)
	}
	return &Config{
		admin:           p.Admin,
		feeRecipient:    p.FeeRecipient,
		escrowFeeBps:    p.EscrowFeeBps,
		takerFeeBps:     p.TakerFeeBps,
		makerFeeBps:     p.MakerFeeBps,
		marketBufferBps: p.MarketBufferBps,
		pairs:           make(map[string]bool),
		minSize:         make(map[string]int64),
	}, nil
}

func pairKey(base, quote string) string {
	return base + "/" + quote
}

func (c *Config) requireAdmin(caller common.Address) error {
	if caller != c.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// Admin returns the fixed admin identity.
func (c *Config) Admin() common.Address {
	return c.admin
}

func (c *Config) FeeRecipient() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeRecipient
}

func (c *Config) EscrowFeeBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.escrowFeeBps
}

func (c *Config) PoolFeeBps() (taker, maker int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.takerFeeBps, c.makerFeeBps
}

func (c *Config) MarketBufferBps() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marketBufferBps
}

func (c *Config) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// PairSupported reports whether (base, quote) is whitelisted.
func (c *Config) PairSupported(base, quote string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pairs[pairKey(base, quote)]
}

// MinOrderSize returns the configured minimum for asset (0 if unset).
func (c *Config) MinOrderSize(asset string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minSize[asset]
}

// SetEscrowFeeBps updates the bilateral fill fee. Admin only, capped.
func (c *Config) SetEscrowFeeBps(caller common.Address, bps int64) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if bps < 0 || bps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps (max %d)", ErrFeeTooHigh, bps, MaxFeeBps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escrowFeeBps = bps
	return nil
}

// SetPoolFeeBps updates the taker/maker fee split. Admin only, capped.
func (c *Config) SetPoolFeeBps(caller common.Address, taker, maker int64) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if taker < 0 || taker > MaxFeeBps || maker < 0 || maker > MaxFeeBps {
		return fmt.Errorf("%w: taker=%d maker=%d (max %d)", ErrFeeTooHigh, taker, maker, MaxFeeBps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takerFeeBps = taker
	c.makerFeeBps = maker
	return nil
}

// SetFeeRecipient updates where collected fees go. Admin only.
func (c *Config) SetFeeRecipient(caller, recipient common.Address) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeRecipient = recipient
	return nil
}

// SetMarketBufferBps tunes the collateral buffer for market buys. Admin only.
func (c *Config) SetMarketBufferBps(caller common.Address, bps int64) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if bps < 0 {
		return fmt.Errorf("market buffer must be non-negative, got %d", bps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketBufferBps = bps
	return nil
}

// SetPaused toggles the pause flag. Pausing blocks order creation only;
// cancels and settlement of already-live orders keep working so user
// funds are never trapped.
func (c *Config) SetPaused(caller common.Address, paused bool) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
	return nil
}

// SetPairSupported adds or removes a pair from the whitelist. Admin only.
func (c *Config) SetPairSupported(caller common.Address, base, quote string, supported bool) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if supported {
		c.pairs[pairKey(base, quote)] = true
	} else {
		delete(c.pairs, pairKey(base, quote))
	}
	return nil
}

// SetMinOrderSize sets the per-asset minimum order size. Admin only.
func (c *Config) SetMinOrderSize(caller common.Address, asset string, min int64) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if min < 0 {
		return fmt.Errorf("%w: minimum size %d", ErrInvalidAmount, min)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minSize[asset] = min
	return nil
}
