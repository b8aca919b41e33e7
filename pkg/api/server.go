package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/app/lending"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/storage"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
	// TxLog receives one JSON line per accepted submission.
	TxLog storage.WAL
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *lending.App
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	txLog   storage.WAL
	origins []string
	http    *http.Server
}

func NewServer(app *lending.App, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.TxLog == nil {
		opts.TxLog = storage.NewNopWAL()
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(opts.Logger),
		log:     opts.Logger,
		txLog:   opts.TxLog,
		origins: opts.AllowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Instruction submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	// Ledger queries
	api.HandleFunc("/balances/{holder}", s.handleGetHoldings).Methods("GET")
	api.HandleFunc("/balances/{holder}/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/users/{address}/accounts", s.handleGetUserAccounts).Methods("GET")
	api.HandleFunc("/orders/loan/{hash}", s.handleGetLoanOrder).Methods("GET")
	api.HandleFunc("/orders/margin/{hash}", s.handleGetMarginOrder).Methods("GET")
	api.HandleFunc("/orders/reserve/{hash}", s.handleGetReserveOrder).Methods("GET")
	api.HandleFunc("/pools/{asset}", s.handleGetPool).Methods("GET")
	api.HandleFunc("/rates/{connector}/{from}/{to}", s.handleGetRate).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/contracts", s.handleGetContracts).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr, "origins", s.origins)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "body too large", "")
		return
	}

	// Only the envelope shape is checked here; signatures and payload
	// semantics are checked when the block is executed.
	env, err := transaction.ParseEnvelope(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid envelope", err.Error())
		return
	}
	if _, err := env.Decode(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	reqID := uuid.NewString()
	hash := env.Hash()
	class := s.app.PushTx(body)

	s.log.Infow("tx_submitted",
		"request_id", reqID,
		"tx", hash.Hex(),
		"type", env.Type,
		"sender", env.Sender.Hex(),
		"class", class.String(),
		"bytes", len(body))
	s.logTransaction("TX_SUBMIT", map[string]any{
		"request_id": reqID,
		"tx_hash":    hash.Hex(),
		"type":       env.Type,
		"sender":     env.Sender.Hex(),
		"tx_bytes":   len(body),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	respondJSON(w, SubmitTxResponse{
		Status:    "queued",
		RequestID: reqID,
		TxHash:    hash,
		Type:      string(env.Type),
		Class:     class.String(),
	})
}

func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holder, ok := addressVar(w, r, "holder")
	if !ok {
		return
	}
	recs := s.app.Holdings(holder)
	out := make([]BalanceInfo, 0, len(recs))
	for _, b := range recs {
		out = append(out, balanceInfo(b.Holder, b.Asset, b.Value))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	holder, ok := addressVar(w, r, "holder")
	if !ok {
		return
	}
	asset, ok := addressVar(w, r, "asset")
	if !ok {
		return
	}
	respondJSON(w, balanceInfo(holder, asset, s.app.Balance(holder, asset)))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	acc, found := s.app.Account(addr)
	if !found {
		respondError(w, http.StatusNotFound, "account not found", addr.Hex())
		return
	}
	respondJSON(w, acc)
}

func (s *Server) handleGetUserAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	accs := s.app.AccountsOf(user)
	if accs == nil {
		accs = []common.Address{}
	}
	respondJSON(w, accs)
}

func (s *Server) handleGetLoanOrder(w http.ResponseWriter, r *http.Request) {
	h, ok := hashVar(w, r)
	if !ok {
		return
	}
	o, found := s.app.LoanOrder(h)
	respondFound(w, "loan order", h, o, found)
}

func (s *Server) handleGetMarginOrder(w http.ResponseWriter, r *http.Request) {
	h, ok := hashVar(w, r)
	if !ok {
		return
	}
	o, found := s.app.MarginOrder(h)
	respondFound(w, "margin order", h, o, found)
}

func (s *Server) handleGetReserveOrder(w http.ResponseWriter, r *http.Request) {
	h, ok := hashVar(w, r)
	if !ok {
		return
	}
	o, found := s.app.ReserveOrder(h)
	respondFound(w, "reserve order", h, o, found)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressVar(w, r, "asset")
	if !ok {
		return
	}
	pool, found := s.app.Pool(asset)
	if !found {
		respondError(w, http.StatusNotFound, "pool not found", asset.Hex())
		return
	}
	respondJSON(w, pool)
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	var addrs [3]common.Address
	for i, name := range []string{"connector", "from", "to"} {
		a, ok := addressVar(w, r, name)
		if !ok {
			return
		}
		addrs[i] = a
	}
	rate, found := s.app.PairRate(addrs[0], addrs[1], addrs[2])
	if !found {
		respondError(w, http.StatusNotFound, "rate not set", "")
		return
	}
	respondJSON(w, RateInfo{
		Connector: addrs[0],
		From:      addrs[1],
		To:        addrs[2],
		Rate:      rate.Dec(),
		Decimal:   fixed.Format(rate),
	})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.app.Status())
}

func (s *Server) handleGetContracts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ContractsInfo{
		Registry: s.app.RegistryAddress(),
		Kernel:   s.app.KernelAddress(),
		Margin:   s.app.MarginAddress(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast (called after each block)
// ==============================

// OnCommit fans a finalized block out to WebSocket subscribers.
func (s *Server) OnCommit(resp abci.ResponseFinalizeBlock) {
	if len(resp.Receipts) == 0 {
		return
	}
	s.hub.BroadcastToChannel(ChannelBlocks, BlockUpdate{
		Type:      "block",
		Height:    resp.Height,
		Timestamp: resp.Timestamp,
		AppHash:   resp.AppHash,
		Receipts:  resp.Receipts,
	})
	for _, rc := range resp.Receipts {
		if rc.TxHash != (common.Hash{}) {
			s.hub.BroadcastToChannel(ChannelTxPrefix+rc.TxHash.Hex(), ReceiptUpdate{
				Type:    "receipt",
				Height:  resp.Height,
				Receipt: rc,
			})
		}
		for _, ev := range rc.Events {
			s.hub.BroadcastToChannel(ChannelEvents, EventUpdate{
				Type:   "event",
				Height: resp.Height,
				TxHash: rc.TxHash,
				Status: rc.Status,
				Event:  ev,
			})
		}
	}
}

// ==============================
// Helper Functions
// ==============================

func balanceInfo(holder, asset common.Address, v *uint256.Int) BalanceInfo {
	return BalanceInfo{
		Holder:  holder,
		Asset:   asset,
		Value:   fixed.Clone(v).Dec(),
		Decimal: fixed.Format(v),
	}
}

func addressVar(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", fmt.Sprintf("%s=%q", name, v))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func hashVar(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	v := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(v)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid hash", v)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// respondFound writes v, or a 404 naming what was looked up.
func respondFound(w http.ResponseWriter, what string, h common.Hash, v any, ok bool) {
	if !ok {
		respondError(w, http.StatusNotFound, what+" not found", h.Hex())
		return
	}
	respondJSON(w, v)
}

func respondJSON(w http.ResponseWriter, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// logTransaction writes a submission event to the tx log, one JSON object per line
func (s *Server) logTransaction(eventType string, data map[string]any) {
	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     eventType,
		"data":      data,
	}
	jsonData, err := json.Marshal(entry)
	if err != nil {
		s.log.Warnw("tx_log_marshal_failed", "err", err)
		return
	}
	s.txLog.Append(string(jsonData))
}
