package engine_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/darkpool/pkg/engine"
	"github.com/uhyunpark/darkpool/pkg/ledger"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

var (
	admin        = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	feeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol        = common.HexToAddress("0x0000000000000000000000000000000000000ca0")
	keeper       = common.HexToAddress("0x00000000000000000000000000000000000000e3")
)

type fixture struct {
	t     *testing.T
	store *ledger.Store
	vault *vault.Vault
	cfg   *engine.Config
	eng   *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg, err := engine.NewConfig(engine.ConfigParams{
		Admin:           admin,
		FeeRecipient:    feeRecipient,
		EscrowFeeBps:    30,
		TakerFeeBps:     20,
		MakerFeeBps:     10,
		MarketBufferBps: 500,
	})
	require.NoError(t, err)

	v := vault.New()
	eng, err := engine.New(engine.Options{Ledger: store, Gateway: v, Config: cfg})
	require.NoError(t, err)

	return &fixture{t: t, store: store, vault: v, cfg: cfg, eng: eng}
}

func (f *fixture) fund(party common.Address, asset string, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.vault.Fund(asset, party, amount))
}

func (f *fixture) allowPair(base, quote string) {
	f.t.Helper()
	require.NoError(f.t, f.cfg.SetPairSupported(admin, base, quote, true))
}

func (f *fixture) advance(n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.eng.AdvanceSequence()
		require.NoError(f.t, err)
	}
}
