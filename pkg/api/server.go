// Package api exposes the engine's operations over HTTP. The handlers
// contain no business logic: caller identity comes from the invoking
// credential (X-DP-Caller) and every request maps to exactly one engine
// operation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool/pkg/engine"
	"github.com/uhyunpark/darkpool/pkg/ids"
	"github.com/uhyunpark/darkpool/pkg/index"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

// CallerHeader carries the caller's address credential.
const CallerHeader = "X-DP-Caller"

// Server wires the REST routes and the settlement websocket feed.
type Server struct {
	eng    *engine.Engine
	vault  *vault.Vault
	index  index.Indexer
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(eng *engine.Engine, v *vault.Vault, ix index.Indexer, log *zap.Logger) *Server {
	if ix == nil {
		ix = index.Noop{}
	}
	s := &Server{
		eng:    eng,
		vault:  v,
		index:  ix,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log.Named("api"),
	}
	s.setupRoutes()

	eng.OnSettlement(func(st *engine.Settlement) {
		s.hub.BroadcastToChannel("settlements", WSSettlementMessage{Channel: "settlements", Settlement: st})
		for _, party := range []common.Address{st.Buyer, st.Seller} {
			ch := "settlements:" + party.Hex()
			s.hub.BroadcastToChannel(ch, WSSettlementMessage{Channel: ch, Settlement: st})
		}
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Escrow
	api.HandleFunc("/escrow/orders", s.handleCreateEscrow).Methods("POST")
	api.HandleFunc("/escrow/orders/{id}", s.handleGetEscrow).Methods("GET")
	api.HandleFunc("/escrow/orders/{id}/fill", s.handleFillEscrow).Methods("POST")
	api.HandleFunc("/escrow/orders/{id}/cancel", s.handleCancelEscrow).Methods("POST")

	// Pool
	api.HandleFunc("/pool/orders", s.handleSubmitPoolOrder).Methods("POST")
	api.HandleFunc("/pool/orders", s.handleListPoolOrders).Methods("GET").Queries("base", "{base}", "quote", "{quote}", "side", "{side}")
	api.HandleFunc("/pool/orders/{id}", s.handleGetPoolOrder).Methods("GET")
	api.HandleFunc("/pool/orders/{id}/cancel", s.handleCancelPoolOrder).Methods("POST")
	api.HandleFunc("/pool/match", s.handleMatch).Methods("POST")

	// Queries
	api.HandleFunc("/settlements/{address}", s.handleSettlements).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/index/orders", s.handleIndexList).Methods("GET")

	// Admin
	api.HandleFunc("/admin/fees", s.handleSetFees).Methods("POST")
	api.HandleFunc("/admin/pause", s.handleSetPaused).Methods("POST")
	api.HandleFunc("/admin/pairs", s.handleSetPair).Methods("POST")
	api.HandleFunc("/admin/min-size", s.handleSetMinSize).Methods("POST")
	api.HandleFunc("/admin/fee-recipient", s.handleSetFeeRecipient).Methods("POST")
	api.HandleFunc("/admin/market-buffer", s.handleSetMarketBuffer).Methods("POST")

	// Vault (demo orchestration)
	api.HandleFunc("/vault/fund", s.handleFund).Methods("POST")
	api.HandleFunc("/vault/balances/{address}", s.handleBalance).Methods("GET").Queries("asset", "{asset}")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", CallerHeader},
		AllowCredentials: false,
	})
	s.log.Info("server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) caller(r *http.Request) (common.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps the engine's failure taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotOwner),
		errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, engine.ErrSelfFill):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrAlreadyFilled),
		errors.Is(err, engine.ErrExpired),
		errors.Is(err, engine.ErrOrderInactive):
		return http.StatusConflict
	case errors.Is(err, engine.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) engineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func parseID(w http.ResponseWriter, r *http.Request) (ids.ID, bool) {
	raw := mux.Vars(r)["id"]
	id, ok := ids.ParseID(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid order id"))
		return ids.ID{}, false
	}
	return id, true
}

func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing or invalid "+CallerHeader+" header"))
		return common.Address{}, false
	}
	return caller, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

// ----- Escrow handlers -----

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req CreateEscrowRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.eng.CreateOrder(caller, req.SellAsset, req.SellAmount, req.BuyAsset, req.BuyAmount, req.Deadline)
	if err != nil {
		s.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OrderIDResponse{OrderID: id.Hex()})
}

func escrowResponse(o engine.EscrowOrder) EscrowOrderResponse {
	return EscrowOrderResponse{
		ID:         o.ID.Hex(),
		Owner:      o.Owner.Hex(),
		SellAsset:  o.SellAsset,
		SellAmount: o.SellAmount,
		BuyAsset:   o.BuyAsset,
		BuyAmount:  o.BuyAmount,
		Deadline:   o.Deadline,
		Status:     o.Status.String(),
	}
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	o, found := s.eng.GetEscrowOrder(id)
	if !found {
		writeError(w, http.StatusNotFound, engine.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, escrowResponse(o))
}

func (s *Server) handleFillEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	settlement, err := s.eng.FillOrder(caller, id)
	if err != nil {
		s.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) handleCancelEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.eng.CancelOrder(caller, id); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Pool handlers -----

func poolResponse(o engine.PoolOrder) PoolOrderResponse {
	return PoolOrderResponse{
		ID:               o.ID.Hex(),
		Owner:            o.Owner.Hex(),
		Base:             o.Base,
		Quote:            o.Quote,
		Side:             o.Side.String(),
		Kind:             o.Kind.String(),
		Amount:           o.Amount,
		LimitPrice:       o.LimitPrice,
		Filled:           o.Filled,
		Remaining:        o.Remaining(),
		LockedCollateral: o.LockedCollateral,
		CreatedSeq:       o.CreatedSeq,
		Expiry:           o.Expiry,
		Status:           o.Status.String(),
	}
}

func (s *Server) handleSubmitPoolOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SubmitPoolOrderRequest
	if !decode(w, r, &req) {
		return
	}
	side, ok := engine.ParseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid side"))
		return
	}
	kind, ok := engine.ParseOrderKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid order kind"))
		return
	}
	id, err := s.eng.SubmitOrder(caller, req.Base, req.Quote, side, kind, req.Amount, req.LimitPrice, req.Expiry)
	if err != nil {
		s.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OrderIDResponse{OrderID: id.Hex()})
}

func (s *Server) handleGetPoolOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	o, found := s.eng.GetPoolOrder(id)
	if !found {
		writeError(w, http.StatusNotFound, engine.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse(o))
}

func (s *Server) handleListPoolOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, ok := engine.ParseSide(q.Get("side"))
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid side"))
		return
	}
	orders := s.eng.ListPoolOrders(q.Get("base"), q.Get("quote"), side)
	out := make([]PoolOrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, poolResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelPoolOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.eng.CancelPoolOrder(caller, id); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req MatchRequest
	if !decode(w, r, &req) {
		return
	}
	buyID, ok := ids.ParseID(req.BuyOrderID)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid buy order id"))
		return
	}
	sellID, ok := ids.ParseID(req.SellOrderID)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid sell order id"))
		return
	}
	price := req.Price
	if price == 0 {
		// Convenience for keepers: fall back to the engine's pricing rule.
		mid, err := s.eng.MidpointPrice(buyID, sellID)
		if err != nil {
			s.engineError(w, err)
			return
		}
		price = mid
	}
	res, err := s.eng.Match(caller, buyID, sellID, price)
	if err != nil {
		s.engineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{
		SettlementID: res.Settlement.ID,
		Price:        res.Price,
		MatchAmount:  res.MatchAmount,
		QuoteAmount:  res.QuoteAmount,
		MakerOrderID: res.MakerID.Hex(),
		TakerOrderID: res.TakerID.Hex(),
	})
}

// ----- Query handlers -----

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	settlements, err := s.eng.Settlements(common.HexToAddress(raw), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settlements)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handleIndexList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := index.MaxListLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	out, err := s.index.List(r.Context(), index.ListFilter{
		Venue: q.Get("venue"),
		Base:  q.Get("base"),
		Quote: q.Get("quote"),
		Side:  q.Get("side"),
		Owner: q.Get("owner"),
	}, limit)
	if err != nil {
		// The mirror is best-effort; report unavailability, don't mask it
		// as an empty result.
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if out == nil {
		out = []index.OrderMeta{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ----- Admin handlers -----

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SetFeesRequest
	if !decode(w, r, &req) {
		return
	}
	cfg := s.eng.Config()
	if req.EscrowFeeBps != nil {
		if err := cfg.SetEscrowFeeBps(caller, *req.EscrowFeeBps); err != nil {
			s.engineError(w, err)
			return
		}
	}
	if req.TakerFeeBps != nil || req.MakerFeeBps != nil {
		taker, maker := cfg.PoolFeeBps()
		if req.TakerFeeBps != nil {
			taker = *req.TakerFeeBps
		}
		if req.MakerFeeBps != nil {
			maker = *req.MakerFeeBps
		}
		if err := cfg.SetPoolFeeBps(caller, taker, maker); err != nil {
			s.engineError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SetPausedRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Config().SetPaused(caller, req.Paused); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPair(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SetPairRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Config().SetPairSupported(caller, req.Base, req.Quote, req.Supported); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMinSize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SetMinSizeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Config().SetMinOrderSize(caller, req.Asset, req.MinSize); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SetFeeRecipientRequest
	if !decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		writeError(w, http.StatusBadRequest, errors.New("invalid recipient address"))
		return
	}
	if err := s.eng.Config().SetFeeRecipient(caller, common.HexToAddress(req.Recipient)); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMarketBuffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req SetMarketBufferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Config().SetMarketBufferBps(caller, req.Bps); err != nil {
		s.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Vault handlers -----

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	if caller != s.eng.Config().Admin() {
		writeError(w, http.StatusForbidden, engine.ErrUnauthorized)
		return
	}
	var req FundRequest
	if !decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Party) {
		writeError(w, http.StatusBadRequest, errors.New("invalid party address"))
		return
	}
	if err := s.vault.Fund(req.Asset, common.HexToAddress(req.Party), req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	asset := r.URL.Query().Get("asset")
	addr := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, BalanceResponse{
		Party:   addr.Hex(),
		Asset:   asset,
		Balance: s.vault.Balance(asset, addr),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
