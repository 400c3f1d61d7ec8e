// Package vault holds user token balances and the engine's custody pool,
// and implements the collateral gateway the engine settles through.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientCustody = errors.New("insufficient custody balance")
	ErrInvalidMove         = errors.New("invalid move")
)

// MoveKind selects the direction of a move relative to custody.
type MoveKind int8

const (
	// LockKind moves amount from a party into custody.
	LockKind MoveKind = iota + 1
	// ReleaseKind moves amount from custody to a party.
	ReleaseKind
)

func (k MoveKind) String() string {
	switch k {
	case LockKind:
		return "lock"
	case ReleaseKind:
		return "release"
	default:
		return "unknown"
	}
}

// Move is one value transfer between a party and custody.
type Move struct {
	Asset  string
	Kind   MoveKind
	Party  common.Address
	Amount int64
}

// Gateway is the value-transfer contract the engine depends on.
// Execute is all-or-nothing: if any move cannot be applied, no move is,
// and the enclosing operation must treat it as a hard failure.
type Gateway interface {
	Execute(moves []Move) error
}

// Vault is the in-process Gateway: a per-asset balance book plus one
// custody balance per asset. All amounts are integer base units of the
// asset (cents-style, matching the engine's price ticks).
type Vault struct {
	mu       sync.RWMutex
	balances map[string]map[common.Address]int64 // asset → party → balance
	custody  map[string]int64                    // asset → custodied total
}

func New() *Vault {
	return &Vault{
		balances: make(map[string]map[common.Address]int64),
		custody:  make(map[string]int64),
	}
}

// Fund credits a party's balance. Used by deposits and test/demo setup.
func (v *Vault) Fund(asset string, party common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: fund amount %d", ErrInvalidMove, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.book(asset)[party] += amount
	return nil
}

// Balance returns a party's free balance in asset.
func (v *Vault) Balance(asset string, party common.Address) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[asset][party]
}

// CustodyBalance returns the total amount of asset held in custody.
func (v *Vault) CustodyBalance(asset string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.custody[asset]
}

func (v *Vault) book(asset string) map[common.Address]int64 {
	b, ok := v.balances[asset]
	if !ok {
		b = make(map[common.Address]int64)
		v.balances[asset] = b
	}
	return b
}

// Execute applies a plan of moves atomically. The whole plan is validated
// against a scratch copy of the affected balances first; only a fully
// valid plan mutates the vault. A failed Execute leaves every balance
// exactly as it was.
func (v *Vault) Execute(moves []Move) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	type acct struct {
		asset string
		party common.Address
	}
	scratch := make(map[acct]int64)
	scratchCustody := make(map[string]int64)

	get := func(a acct) int64 {
		if val, ok := scratch[a]; ok {
			return val
		}
		return v.balances[a.asset][a.party]
	}
	getCustody := func(asset string) int64 {
		if val, ok := scratchCustody[asset]; ok {
			return val
		}
		return v.custody[asset]
	}

	for i, m := range moves {
		if m.Amount < 0 {
			return fmt.Errorf("%w: move %d has negative amount %d", ErrInvalidMove, i, m.Amount)
		}
		if m.Amount == 0 {
			continue
		}
		a := acct{asset: m.Asset, party: m.Party}
		switch m.Kind {
		case LockKind:
			bal := get(a)
			if bal < m.Amount {
				return fmt.Errorf("%w: %s needs %d %s, has %d",
					ErrInsufficientBalance, m.Party.Hex(), m.Amount, m.Asset, bal)
			}
			scratch[a] = bal - m.Amount
			scratchCustody[m.Asset] = getCustody(m.Asset) + m.Amount
		case ReleaseKind:
			cust := getCustody(m.Asset)
			if cust < m.Amount {
				return fmt.Errorf("%w: release of %d %s exceeds custody %d",
					ErrInsufficientCustody, m.Amount, m.Asset, cust)
			}
			scratchCustody[m.Asset] = cust - m.Amount
			scratch[a] = get(a) + m.Amount
		default:
			return fmt.Errorf("%w: move %d has kind %d", ErrInvalidMove, i, m.Kind)
		}
	}

	// Plan is valid end to end: flush the scratch state.
	for a, val := range scratch {
		v.book(a.asset)[a.party] = val
	}
	for asset, val := range scratchCustody {
		v.custody[asset] = val
	}
	return nil
}
