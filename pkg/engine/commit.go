package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool/pkg/ledger"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

// commitRequest is the output of an operation's build phase: every effect
// the operation wants, expressed as one ledger batch, one gateway plan,
// and the in-memory mutations to run once both are durable.
type commitRequest struct {
	batch      *ledger.Batch
	moves      []vault.Move
	settlement *Settlement
	post       []func()
}

// reverseMoves inverts a gateway plan for compensation. Reversal cannot
// fail: a lock just executed guarantees custody for its release, and a
// release just executed guarantees balance for its lock.
func reverseMoves(moves []vault.Move) []vault.Move {
	out := make([]vault.Move, 0, len(moves))
	for i := len(moves) - 1; i >= 0; i-- {
		m := moves[i]
		switch m.Kind {
		case vault.LockKind:
			m.Kind = vault.ReleaseKind
		case vault.ReleaseKind:
			m.Kind = vault.LockKind
		}
		out = append(out, m)
	}
	return out
}

// apply executes a commit request atomically. Caller holds e.mu.
//
// The gateway plan runs first (all-or-nothing), then the ledger batch.
// If the ledger rejects the batch (spent-marker conflict, I/O failure)
// the gateway plan is compensated before the error is returned, so no
// partial transfer is ever observable.
func (e *Engine) apply(req *commitRequest) error {
	if len(req.moves) > 0 {
		if err := e.gateway.Execute(req.moves); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	}
	if err := e.ledger.Commit(req.batch); err != nil {
		if len(req.moves) > 0 {
			if rbErr := e.gateway.Execute(reverseMoves(req.moves)); rbErr != nil {
				e.log.Error("compensation after failed commit did not apply",
					zap.Error(rbErr), zap.NamedError("commitError", err))
			}
		}
		return err
	}
	for _, fn := range req.post {
		fn()
	}
	if req.settlement != nil && e.onSettlement != nil {
		e.onSettlement(req.settlement)
	}
	return nil
}
