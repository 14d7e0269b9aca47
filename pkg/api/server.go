package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/core/account"
	"github.com/guessly/clob/pkg/app/core/market"
	"github.com/guessly/clob/pkg/app/core/orderbook"
	"github.com/guessly/clob/pkg/app/engine"
	"github.com/guessly/clob/pkg/crypto"
	"github.com/guessly/clob/pkg/util"
)

// Engine is the trading surface the API drives.
type Engine interface {
	PlaceOrder(maker, mkt common.Address, outcome uint8, price, amount uint64, isBid bool) (uint64, error)
	FillOrders(taker common.Address, ids, amounts []uint64) (*engine.FillResult, error)
	Order(id uint64) (orderbook.Order, error)
	OrdersForSide(mkt common.Address, outcome uint8, isBid bool) []uint64
	Depth(mkt common.Address, outcome uint8) engine.Depth
}

type MarketReader interface {
	List() []market.Market
	Get(addr common.Address) (market.Market, error)
}

type BalanceReader interface {
	Balances(owner common.Address) []account.Balance
}

type Config struct {
	Engine   Engine
	Markets  MarketReader
	Balances BalanceReader
	Intents  *crypto.EIP712Signer
	Guard    *ReplayGuard
	Hub      *Hub
	Clock    util.Clock
	Logger   *zap.Logger

	AllowedOrigins []string
}

// Server serves the REST API and the websocket event stream.
type Server struct {
	cfg    Config
	router *mux.Router
	log    *zap.Logger
	clock  util.Clock
	srv    *http.Server
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Guard == nil {
		cfg.Guard = NewReplayGuard(cfg.Clock, 0)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		log:    util.OrNop(cfg.Logger),
		clock:  cfg.Clock,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{market}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/markets/{market}/orders", s.handleGetOrders).Methods("GET")

	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/fills", s.handleFillOrders).Methods("POST")

	if s.cfg.Hub != nil {
		s.router.Handle("/ws", s.cfg.Hub)
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("api_listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.cfg.Markets.List()
	out := make([]MarketInfo, len(markets))
	for i, m := range markets {
		out[i] = marketInfo(m)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "market")
	if !ok {
		return
	}
	m, err := s.cfg.Markets.Get(addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, marketInfo(m))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "market")
	if !ok {
		return
	}
	outcome, ok := queryOutcome(w, r)
	if !ok {
		return
	}
	if _, err := s.cfg.Markets.Get(addr); err != nil {
		respondErr(w, err)
		return
	}
	d := s.cfg.Engine.Depth(addr, outcome)
	respondJSON(w, http.StatusOK, BookSnapshot{
		Market:    addr,
		Outcome:   outcome,
		Bids:      levels(d.Bids),
		Asks:      levels(d.Asks),
		Timestamp: s.clock.Now().UnixMilli(),
	})
}

// handleGetOrders lists one side in insertion order, stale entries included
// unless active=true.
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "market")
	if !ok {
		return
	}
	outcome, ok := queryOutcome(w, r)
	if !ok {
		return
	}
	var isBid bool
	switch r.URL.Query().Get("side") {
	case "bid", "buy":
		isBid = true
	case "ask", "sell":
	default:
		respondError(w, http.StatusBadRequest, "invalid side", "side must be bid or ask")
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	ids := s.cfg.Engine.OrdersForSide(addr, outcome, isBid)
	out := make([]OrderInfo, 0, len(ids))
	for _, id := range ids {
		o, err := s.cfg.Engine.Order(id)
		if err != nil {
			continue
		}
		if activeOnly && !o.Active {
			continue
		}
		out = append(out, orderInfo(o))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.cfg.Engine.Order(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	held := s.cfg.Balances.Balances(addr)
	out := AccountBalances{Address: addr, Balances: make([]BalanceInfo, len(held))}
	for i, b := range held {
		out.Balances[i] = BalanceInfo{Asset: b.Asset, Amount: b.Amount, Decimal: micro(b.Amount)}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	in := req.Intent
	if err := s.cfg.Intents.VerifyPlaceOrder(&in, req.Signature); err != nil {
		respondErr(w, err)
		return
	}
	if err := s.cfg.Guard.Use(in.Maker, in.Nonce, in.Deadline); err != nil {
		respondErr(w, err)
		return
	}

	id, err := s.cfg.Engine.PlaceOrder(in.Maker, in.Market, in.Outcome, in.Price, in.Amount, in.IsBid)
	if err != nil {
		s.log.Debug("place_rejected", zap.String("maker", in.Maker.Hex()), zap.Error(err))
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, PlaceOrderResponse{OrderID: id})
}

func (s *Server) handleFillOrders(w http.ResponseWriter, r *http.Request) {
	var req FillOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	in := req.Intent
	if err := s.cfg.Intents.VerifyFillOrders(&in, req.Signature); err != nil {
		respondErr(w, err)
		return
	}
	if err := s.cfg.Guard.Use(in.Taker, in.Nonce, in.Deadline); err != nil {
		respondErr(w, err)
		return
	}

	res, err := s.cfg.Engine.FillOrders(in.Taker, in.OrderIDs, in.Amounts)
	if err != nil {
		s.log.Debug("fill_rejected", zap.String("taker", in.Taker.Hex()), zap.Error(err))
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ==============================
// Helper Functions
// ==============================

func pathAddress(w http.ResponseWriter, r *http.Request, key string) (common.Address, bool) {
	raw := mux.Vars(r)[key]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func queryOutcome(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	raw := r.URL.Query().Get("outcome")
	if raw == "" {
		return orderbook.OutcomeYes, true
	}
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil || uint8(v) > orderbook.OutcomeNo {
		respondError(w, http.StatusBadRequest, "invalid outcome", raw)
		return 0, false
	}
	return uint8(v), true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOrderParameters),
		errors.Is(err, crypto.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrIntentExpired), errors.Is(err, ErrNonceReused):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, engine.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrMarketResolved),
		errors.Is(err, engine.ErrMarketNotResolved),
		errors.Is(err, engine.ErrOrderNotActive),
		errors.Is(err, engine.ErrExcessFillAmount):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}
