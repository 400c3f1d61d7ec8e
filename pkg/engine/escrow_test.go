package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/darkpool/pkg/engine"
	"github.com/uhyunpark/darkpool/pkg/ids"
)

func TestCreateOrderLocksCollateral(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)

	id, err := f.eng.CreateOrder(alice, "A", 1000, "B", 3500000, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.vault.Balance("A", alice))
	assert.Equal(t, int64(1000), f.vault.CustodyBalance("A"))

	order, ok := f.eng.GetEscrowOrder(id)
	require.True(t, ok)
	assert.Equal(t, alice, order.Owner)
	assert.Equal(t, engine.StatusLive, order.Status)
	assert.Equal(t, int64(1), f.eng.Stats().LiveOrders)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)

	_, err := f.eng.CreateOrder(alice, "A", 0, "B", 100, 100)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = f.eng.CreateOrder(alice, "A", 100, "B", -5, 100)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	// Deadline must be strictly after the current sequence.
	_, err = f.eng.CreateOrder(alice, "A", 100, "B", 100, 0)
	assert.ErrorIs(t, err, engine.ErrExpired)

	// Insufficient balance surfaces as a gateway failure with no state.
	_, err = f.eng.CreateOrder(alice, "A", 5000, "B", 100, 100)
	assert.ErrorIs(t, err, engine.ErrTransferFailed)
	assert.Equal(t, int64(1000), f.vault.Balance("A", alice))
	assert.Equal(t, int64(0), f.eng.Stats().LiveOrders)
}

// Spec scenario: sell 10.00 A (=1000 units) for 35000 B (=3500000 units)
// at 30 bps. The filler nets 9.97 A, the owner 35000 B, the fee
// recipient 0.03 A; fee rounding truncates.
func TestFillOrderFeeAndConservation(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)
	f.fund(bob, "B", 3500000)

	id, err := f.eng.CreateOrder(alice, "A", 1000, "B", 3500000, 1000)
	require.NoError(t, err)

	settlement, err := f.eng.FillOrder(bob, id)
	require.NoError(t, err)

	assert.Equal(t, int64(997), f.vault.Balance("A", bob))
	assert.Equal(t, int64(3), f.vault.Balance("A", feeRecipient))
	assert.Equal(t, int64(3500000), f.vault.Balance("B", alice))
	assert.Equal(t, int64(0), f.vault.Balance("B", bob))
	// Custody drained exactly.
	assert.Equal(t, int64(0), f.vault.CustodyBalance("A"))
	assert.Equal(t, int64(0), f.vault.CustodyBalance("B"))

	assert.Equal(t, int64(997), settlement.BuyerRecv)
	assert.Equal(t, int64(3500000), settlement.SellerRecv)
	assert.Equal(t, int64(3), settlement.BaseFee)

	stats := f.eng.Stats()
	assert.Equal(t, int64(0), stats.LiveOrders)
	assert.Equal(t, int64(1000), stats.TotalVolume)

	// Both parties see the settlement in their own scope.
	aliceSettlements, err := f.eng.Settlements(alice, 10)
	require.NoError(t, err)
	require.Len(t, aliceSettlements, 1)
	bobSettlements, err := f.eng.Settlements(bob, 10)
	require.NoError(t, err)
	require.Len(t, bobSettlements, 1)
	assert.Equal(t, aliceSettlements[0].ID, bobSettlements[0].ID)
}

func TestFillOrderExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)
	f.fund(bob, "B", 200)
	f.fund(carol, "B", 200)

	id, err := f.eng.CreateOrder(alice, "A", 1000, "B", 200, 1000)
	require.NoError(t, err)

	_, err = f.eng.FillOrder(bob, id)
	require.NoError(t, err)

	// Second fill fails: the consumption marker already exists.
	_, err = f.eng.FillOrder(carol, id)
	assert.ErrorIs(t, err, engine.ErrAlreadyFilled)
	// Cancel after fill fails the same way.
	err = f.eng.CancelOrder(alice, id)
	assert.ErrorIs(t, err, engine.ErrAlreadyFilled)
	// Carol's funds are untouched.
	assert.Equal(t, int64(200), f.vault.Balance("B", carol))
}

func TestFillOrderRejections(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)
	f.fund(bob, "B", 200)

	id, err := f.eng.CreateOrder(alice, "A", 1000, "B", 200, 2)
	require.NoError(t, err)

	_, err = f.eng.FillOrder(alice, id)
	assert.ErrorIs(t, err, engine.ErrSelfFill)

	var unknown ids.ID
	unknown[0] = 0x7f
	_, err = f.eng.FillOrder(bob, unknown)
	assert.ErrorIs(t, err, engine.ErrOrderNotFound)

	// Expiry is evaluated lazily against the sequence marker.
	f.advance(3)
	_, err = f.eng.FillOrder(bob, id)
	assert.ErrorIs(t, err, engine.ErrExpired)

	// The owner can still recover collateral after expiry.
	require.NoError(t, f.eng.CancelOrder(alice, id))
	assert.Equal(t, int64(1000), f.vault.Balance("A", alice))
}

func TestCancelOrderOwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 500)

	id, err := f.eng.CreateOrder(alice, "A", 500, "B", 100, 100)
	require.NoError(t, err)

	err = f.eng.CancelOrder(bob, id)
	assert.ErrorIs(t, err, engine.ErrNotOwner)

	require.NoError(t, f.eng.CancelOrder(alice, id))
	assert.Equal(t, int64(500), f.vault.Balance("A", alice))
	assert.Equal(t, int64(0), f.eng.Stats().LiveOrders)
}

func TestPauseBlocksCreationNotSettlement(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)
	f.fund(bob, "B", 200)

	id, err := f.eng.CreateOrder(alice, "A", 500, "B", 100, 100)
	require.NoError(t, err)

	require.NoError(t, f.cfg.SetPaused(admin, true))

	_, err = f.eng.CreateOrder(alice, "A", 500, "B", 100, 100)
	assert.ErrorIs(t, err, engine.ErrPaused)

	// Fills and cancels of live orders keep working under pause.
	_, err = f.eng.FillOrder(bob, id)
	require.NoError(t, err)
}

func TestStateSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, "A", 1000)

	id, err := f.eng.CreateOrder(alice, "A", 1000, "B", 200, 100)
	require.NoError(t, err)
	f.advance(2)

	// Reload from the same ledger: orders, counters and sequence persist.
	eng2, err := engine.New(engine.Options{Ledger: f.store, Gateway: f.vault, Config: f.cfg})
	require.NoError(t, err)

	order, ok := eng2.GetEscrowOrder(id)
	require.True(t, ok)
	assert.Equal(t, engine.StatusLive, order.Status)
	assert.Equal(t, uint64(2), eng2.CurrentSequence())
	assert.Equal(t, int64(1), eng2.Stats().LiveOrders)
}
