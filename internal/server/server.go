package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mzlxgateway/internal/chain"
	"mzlxgateway/internal/config"
	"mzlxgateway/internal/hmacauth"
	"mzlxgateway/internal/ledger"
	"mzlxgateway/internal/purchase"
	"mzlxgateway/internal/treasury"
)

const maxBodyBytes = 1 << 20

// Deps are the components the HTTP layer drives.
type Deps struct {
	Chain    chain.Client
	Settler  *purchase.Settler
	Reporter *treasury.Reporter
	Ledger   ledger.Store
	DLQ      *DLQ
	Logger   *zap.Logger
}

type Server struct {
	cfg         *config.AppConfig
	settler     *purchase.Settler
	reporter    *treasury.Reporter
	ledger      ledger.Store
	dlq         *DLQ
	admin       *hmacauth.Verifier
	limiter     *ipRateLimiter
	logger      *zap.Logger
	metrics     *metricsRegistry
	handler     http.Handler
	httpServer  *http.Server
	stopSweep   context.CancelFunc
	rpcHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dlq := deps.DLQ
	if dlq == nil {
		dlq = NewDLQ(cfg.Service.DLQPath, logger)
	}

	metrics := newMetricsRegistry()
	dlq.onWrite = metrics.setDLQDepth

	s := &Server{
		cfg:      cfg,
		settler:  deps.Settler,
		reporter: deps.Reporter,
		ledger:   deps.Ledger,
		dlq:      dlq,
		admin: &hmacauth.Verifier{
			Secret:  cfg.Service.AdminHMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		logger:  logger,
		metrics: metrics,
	}

	if checker, ok := deps.Chain.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := deps.Ledger.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	var purchaseHandler http.Handler = http.HandlerFunc(s.handlePurchase)
	if cfg.Service.RateLimit > 0 {
		s.limiter = newIPRateLimiter(cfg.Service.RateLimit, cfg.Service.RateBurst)
		purchaseHandler = s.limiter.middleware(metrics.incRateLimited, purchaseHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("POST /api/purchase", purchaseHandler)
	mux.Handle("GET /api/metrics", metrics.handler())
	mux.Handle("GET /api/admin/purchases/{txHash}", s.admin.Middleware(http.HandlerFunc(s.handleLedgerLookup)))

	s.handler = requestIDMiddleware(recoverMiddleware(logger, corsMiddleware(cfg.Service.AllowedOrigins, mux)))
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	if s.limiter != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopSweep = cancel
		go s.limiter.sweep(ctx, time.Minute)
	}
	s.logger.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown waits for in-flight purchases, which may be awaiting payout
// confirmation, until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopSweep != nil {
		s.stopSweep()
	}
	return s.httpServer.Shutdown(ctx)
}

// amount accepts a JSON number or string and keeps its literal text.
type amount string

func (a *amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*a = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amount(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("amount must be a number or numeric string")
		}
		*a = amount(n.String())
	}
	return nil
}

type purchaseRequest struct {
	WalletAddress string `json:"walletAddress"`
	USDTAmount    amount `json:"usdtAmount"`
	MZLXAmount    amount `json:"mzlxAmount"`
	TxHash        string `json:"txHash"`
}

type purchaseResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	MZLXTxHash string    `json:"mzlxTxHash"`
	MZLXAmount string    `json:"mzlxAmount"`
	USDTAmount string    `json:"usdtAmount"`
	Receiver   string    `json:"receiver"`
	Timestamp  time.Time `json:"timestamp"`
}

type rejectionResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	Available  string `json:"available,omitempty"`
	Required   string `json:"required,omitempty"`
	MZLXTxHash string `json:"mzlxTxHash,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Reason     string `json:"reason,omitempty"`
	MZLXTxHash string `json:"mzlxTxHash,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	logger := s.logger.With(zap.String("request_id", requestID(r.Context())))

	var payload purchaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		s.metrics.observePurchase("rejected", "InvalidJSON", started)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload", Details: err.Error()})
		return
	}

	settlement, err := s.settler.Settle(r.Context(), purchase.RawPurchase{
		WalletAddress: payload.WalletAddress,
		StableAmount:  string(payload.USDTAmount),
		PayoutAmount:  string(payload.MZLXAmount),
		TxHash:        payload.TxHash,
	})
	if err != nil {
		s.writePurchaseError(w, logger, err, started)
		return
	}

	s.metrics.observePurchase("success", "", started)
	writeJSON(w, http.StatusOK, purchaseResponse{
		Success:    true,
		Message:    fmt.Sprintf("Successfully sent %s MZLX to %s", settlement.PayoutAmount.String(), settlement.Receiver.Hex()),
		MZLXTxHash: settlement.PayoutTxHash.Hex(),
		MZLXAmount: settlement.PayoutAmount.String(),
		USDTAmount: settlement.StableAmount.String(),
		Receiver:   settlement.Receiver.Hex(),
		Timestamp:  settlement.Timestamp,
	})
}

func (s *Server) writePurchaseError(w http.ResponseWriter, logger *zap.Logger, err error, started time.Time) {
	var rej *purchase.Rejection
	if errors.As(err, &rej) {
		s.metrics.observePurchase("rejected", string(rej.Reason), started)
		logger.Info("purchase rejected", zap.String("reason", string(rej.Reason)), zap.String("message", rej.Message))
		writeJSON(w, rejectionStatus(rej.Reason), rejectionResponse{
			Error:      rej.Message,
			Reason:     string(rej.Reason),
			Available:  rej.Available,
			Required:   rej.Required,
			MZLXTxHash: rej.PayoutTxHash,
		})
		return
	}

	var failure *purchase.Failure
	if errors.As(err, &failure) {
		s.metrics.observePurchase("failed", string(failure.Reason), started)
		logger.Error("purchase failed", zap.String("reason", string(failure.Reason)), zap.Error(err))
		// Detail is a fixed description; the wrapped error may carry node output.
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:      "Purchase failed",
			Details:    failure.Detail,
			Reason:     string(failure.Reason),
			MZLXTxHash: failure.PayoutTxHash,
		})
		return
	}

	s.metrics.observePurchase("failed", "Internal", started)
	logger.Error("purchase failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Purchase failed"})
}

func rejectionStatus(reason purchase.Reason) int {
	switch reason {
	case purchase.ReasonTxNotFound:
		return http.StatusNotFound
	case purchase.ReasonProofAlreadyUsed:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

type healthResponse struct {
	Status         string    `json:"status"`
	ChainID        string    `json:"chainId"`
	AdminWallet    string    `json:"adminWallet"`
	ReceiverWallet string    `json:"receiverWallet"`
	MZLXBalance    string    `json:"mzlxBalance"`
	MZLXInFlight   string    `json:"mzlxInFlight"`
	Network        string    `json:"network"`
	LastChecked    time.Time `json:"lastChecked"`
	RPC            string    `json:"rpc"`
	RPCLatencyMs   float64   `json:"rpcLatencyMs"`
	Ledger         string    `json:"ledger"`
	QueueDepth     int       `json:"queueDepth"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := s.reporter.Snapshot(ctx)
	if err != nil {
		s.logger.Error("health snapshot", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to get balance",
			Details: treasury.ErrBalanceUnavailable.Error(),
		})
		return
	}
	if v, ok := decimalFloat(report.Balance); ok {
		s.metrics.setTreasuryBalance(v)
	}

	resp := healthResponse{
		Status:         report.Status,
		ChainID:        report.ChainID,
		AdminWallet:    report.AdminWallet.Hex(),
		ReceiverWallet: report.ReceiverWallet.Hex(),
		MZLXBalance:    report.Balance,
		MZLXInFlight:   report.InFlight,
		Network:        report.Network,
		LastChecked:    report.LastChecked,
		RPC:            "ok",
		Ledger:         "ok",
		QueueDepth:     s.updateDLQDepth(),
	}

	// Dependency pings only degrade the body; the balance read above decides
	// between 200 and 500.
	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			s.logger.Warn("rpc ping", zap.Error(err))
			resp.Status = "degraded"
			resp.RPC = "unavailable"
		} else {
			resp.RPCLatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}
	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			s.logger.Warn("ledger ping", zap.Error(err))
			resp.Status = "degraded"
			resp.Ledger = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Service.InfoPageURL != "" {
		http.Redirect(w, r, s.cfg.Service.InfoPageURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "mzlx-purchase-gateway",
		"network": s.cfg.Chain.NetworkName,
	})
}

func (s *Server) handleLedgerLookup(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("txHash")
	if !purchase.IsTxHash(hash) {
		writeJSON(w, http.StatusBadRequest, rejectionResponse{
			Error:  "invalid transaction hash format",
			Reason: string(purchase.ReasonInvalidTxHash),
		})
		return
	}

	rec, err := s.ledger.Get(r.Context(), hash)
	if err != nil {
		s.logger.Error("ledger lookup", zap.String("proof", hash), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ledger lookup failed"})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no purchase recorded for transaction"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) updateDLQDepth() int {
	depth := s.dlq.Depth()
	s.metrics.setDLQDepth(depth)
	return depth
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decimalFloat(s string) (float64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}
