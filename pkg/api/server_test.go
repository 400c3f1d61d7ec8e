package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool/pkg/api"
	"github.com/uhyunpark/darkpool/pkg/engine"
	"github.com/uhyunpark/darkpool/pkg/ledger"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

var (
	admin        = common.HexToAddress("0x00000000000000000000000000000000000Ad317")
	feeRecipient = common.HexToAddress("0x000000000000000000000000000000000000Fee5")
	alice        = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	keeper       = common.HexToAddress("0x00000000000000000000000000000000000cafe5")
)

type fixture struct {
	srv   *httptest.Server
	vault *vault.Vault
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
	eng, err := engine.New(engine.Options{
		Ledger:  store,
		Gateway: v,
		Config:  cfg,
		Log:     zap.NewNop(),
	})
	require.NoError(t, err)

	s := api.NewServer(eng, v, nil, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, vault: v, eng: eng}
}

func (f *fixture) do(t *testing.T, caller *common.Address, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if caller != nil {
		req.Header.Set(api.CallerHeader, caller.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (f *fixture) fund(t *testing.T, party common.Address, asset string, amount int64) {
	t.Helper()
	require.NoError(t, f.vault.Fund(asset, party, amount))
}

func TestMissingCallerHeader(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, nil, "POST", "/api/v1/escrow/orders", api.CreateEscrowRequest{
		SellAsset: "TKN", SellAmount: 10, BuyAsset: "USD", BuyAmount: 100, Deadline: 10,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Garbage in the header is the same as no header.
	req, err := http.NewRequest("POST", f.srv.URL+"/api/v1/pool/match", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	req.Header.Set(api.CallerHeader, "not-an-address")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, "TKN", 1000)
	f.fund(t, bob, "USD", 3500000)

	resp := f.do(t, &alice, "POST", "/api/v1/escrow/orders", api.CreateEscrowRequest{
		SellAsset: "TKN", SellAmount: 1000, BuyAsset: "USD", BuyAmount: 3500000, Deadline: 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.OrderIDResponse
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.OrderID)

	resp = f.do(t, nil, "GET", "/api/v1/escrow/orders/"+created.OrderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var order api.EscrowOrderResponse
	decodeBody(t, resp, &order)
	assert.Equal(t, alice.Hex(), order.Owner)
	assert.Equal(t, "live", order.Status)

	resp = f.do(t, &bob, "POST", "/api/v1/escrow/orders/"+created.OrderID+"/fill", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Consumed: a second fill conflicts.
	resp = f.do(t, &bob, "POST", "/api/v1/escrow/orders/"+created.OrderID+"/fill", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPoolMatchOverHTTP(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Config().SetPairSupported(admin, "TKN", "USD", true))
	f.fund(t, alice, "USD", 1100)
	f.fund(t, bob, "TKN", 10)

	resp := f.do(t, &alice, "POST", "/api/v1/pool/orders", api.SubmitPoolOrderRequest{
		Base: "TKN", Quote: "USD", Side: "buy", Kind: "LIMIT", Amount: 10, LimitPrice: 110, Expiry: 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var buy api.OrderIDResponse
	decodeBody(t, resp, &buy)

	resp = f.do(t, &bob, "POST", "/api/v1/pool/orders", api.SubmitPoolOrderRequest{
		Base: "TKN", Quote: "USD", Side: "sell", Kind: "LIMIT", Amount: 10, LimitPrice: 100, Expiry: 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sell api.OrderIDResponse
	decodeBody(t, resp, &sell)

	// Price 0 falls back to the midpoint rule.
	resp = f.do(t, &keeper, "POST", "/api/v1/pool/match", api.MatchRequest{
		BuyOrderID: buy.OrderID, SellOrderID: sell.OrderID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var match api.MatchResponse
	decodeBody(t, resp, &match)
	assert.Equal(t, int64(105), match.Price)
	assert.Equal(t, int64(10), match.MatchAmount)
	assert.Equal(t, int64(1050), match.QuoteAmount)
	assert.Equal(t, buy.OrderID, match.MakerOrderID)

	// Same orders again: the records are spent.
	resp = f.do(t, &keeper, "POST", "/api/v1/pool/match", api.MatchRequest{
		BuyOrderID: buy.OrderID, SellOrderID: sell.OrderID, Price: 105,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, nil, "GET", "/api/v1/pool/orders/"+buy.OrderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var po api.PoolOrderResponse
	decodeBody(t, resp, &po)
	assert.Equal(t, "filled", po.Status)
	assert.Equal(t, int64(0), po.Remaining)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Config().SetPairSupported(admin, "TKN", "USD", true))
	f.fund(t, alice, "USD", 1100)

	missing := "0x" + fmt.Sprintf("%064x", 0xdead)
	resp := f.do(t, &bob, "POST", "/api/v1/escrow/orders/"+missing+"/fill", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, nil, "GET", "/api/v1/escrow/orders/not-hex", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Cancel by a stranger is forbidden.
	resp = f.do(t, &alice, "POST", "/api/v1/pool/orders", api.SubmitPoolOrderRequest{
		Base: "TKN", Quote: "USD", Side: "buy", Kind: "LIMIT", Amount: 10, LimitPrice: 110, Expiry: 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.OrderIDResponse
	decodeBody(t, resp, &created)
	resp = f.do(t, &bob, "POST", "/api/v1/pool/orders/"+created.OrderID+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Insufficient balance surfaces as unprocessable.
	resp = f.do(t, &bob, "POST", "/api/v1/pool/orders", api.SubmitPoolOrderRequest{
		Base: "TKN", Quote: "USD", Side: "sell", Kind: "LIMIT", Amount: 10, LimitPrice: 100, Expiry: 100,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t)

	// Non-admin is rejected, state unchanged.
	bps := int64(50)
	resp := f.do(t, &alice, "POST", "/api/v1/admin/fees", api.SetFeesRequest{EscrowFeeBps: &bps})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int64(30), f.eng.Config().EscrowFeeBps())

	resp = f.do(t, &admin, "POST", "/api/v1/admin/fees", api.SetFeesRequest{EscrowFeeBps: &bps})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int64(50), f.eng.Config().EscrowFeeBps())

	over := int64(engine.MaxFeeBps + 1)
	resp = f.do(t, &admin, "POST", "/api/v1/admin/fees", api.SetFeesRequest{EscrowFeeBps: &over})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int64(50), f.eng.Config().EscrowFeeBps())

	resp = f.do(t, &admin, "POST", "/api/v1/admin/pause", api.SetPausedRequest{Paused: true})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.eng.Config().Paused())

	resp = f.do(t, &admin, "POST", "/api/v1/admin/pairs", api.SetPairRequest{Base: "TKN", Quote: "USD", Supported: true})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.eng.Config().PairSupported("TKN", "USD"))
}

func TestVaultEndpoints(t *testing.T) {
	f := newFixture(t)

	// Funding is an admin operation.
	resp := f.do(t, &alice, "POST", "/api/v1/vault/fund", api.FundRequest{
		Party: alice.Hex(), Asset: "USD", Amount: 500,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, &admin, "POST", "/api/v1/vault/fund", api.FundRequest{
		Party: alice.Hex(), Asset: "USD", Amount: 500,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, nil, "GET", "/api/v1/vault/balances/"+alice.Hex()+"?asset=USD", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bal api.BalanceResponse
	decodeBody(t, resp, &bal)
	assert.Equal(t, int64(500), bal.Balance)
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, nil, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats engine.Stats
	decodeBody(t, resp, &stats)
	assert.Equal(t, int64(0), stats.LiveOrders)

	resp = f.do(t, nil, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
