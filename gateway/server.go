package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"starbridge/native/bridge"
	"starbridge/observability/metrics"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine  *bridge.Engine
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server exposes the settlement engine over HTTP: proof submission for the
// three inbound lanes, outbound intents, vault withdrawal, health and metrics.
type Server struct {
	engine  *bridge.Engine
	metrics *metrics.Metrics
	log     *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	srv := &Server{
		engine:  cfg.Engine,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}
	if srv.log == nil {
		srv.log = slog.Default()
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(api chi.Router) {
		api.Post("/proofs/transfer", s.handleProof(bridge.KindTransfer))
		api.Post("/proofs/swap", s.handleProof(bridge.KindSwap))
		api.Post("/proofs/deposit", s.handleProof(bridge.KindDeposit))
		api.Post("/intents/transfer", s.handleTransferOut)
		api.Post("/intents/swap", s.handleSwapOut)
		api.Post("/intents/deposit", s.handleDepositOut)
		api.Post("/vault/withdraw", s.handleWithdraw)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	return r
}

type proofRequest struct {
	SourceChain uint64 `json:"sourceChain"`
	Proof       string `json:"proof"`
	Caller      string `json:"caller"`
}

type skipResponse struct {
	Index   int    `json:"index"`
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason"`
}

type batchResponse struct {
	Settled int            `json:"settled"`
	Skipped []skipResponse `json:"skipped,omitempty"`
}

func (s *Server) handleProof(kind bridge.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proofRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		proof, err := base64.StdEncoding.DecodeString(req.Proof)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "proof must be base64")
			return
		}
		caller, err := decodeHexField(req.Caller)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "caller must be hex")
			return
		}
		source := bridge.ChainID(req.SourceChain)

		var result *bridge.BatchResult
		switch kind {
		case bridge.KindTransfer:
			result, err = s.engine.TransferIn(source, proof, caller)
		case bridge.KindSwap:
			result, err = s.engine.SwapIn(source, proof, caller)
		case bridge.KindDeposit:
			result, err = s.engine.DepositIn(source, proof, caller)
		}
		if err != nil {
			if s.metrics != nil {
				s.metrics.ProofBatches.WithLabelValues(kind.String(), "rejected").Inc()
			}
			s.log.Warn("proof batch rejected", "kind", kind.String(), "source", req.SourceChain, "error", err)
			s.writeEngineError(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.ProofBatches.WithLabelValues(kind.String(), "accepted").Inc()
			s.metrics.EventsSettled.WithLabelValues(kind.String()).Add(float64(result.Settled))
			s.metrics.EventsSkipped.WithLabelValues(kind.String()).Add(float64(len(result.Skipped)))
		}
		s.log.Info("proof batch settled",
			"kind", kind.String(),
			"source", req.SourceChain,
			"settled", result.Settled,
			"skipped", len(result.Skipped),
		)
		resp := batchResponse{Settled: result.Settled}
		for _, skip := range result.Skipped {
			entry := skipResponse{Index: skip.Index, Reason: skip.Reason}
			if skip.OrderID != (bridge.OrderID{}) {
				entry.OrderID = hex.EncodeToString(skip.OrderID[:])
			}
			resp.Skipped = append(resp.Skipped, entry)
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

type intentRequest struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	To      string `json:"to"`
	ToChain uint64 `json:"toChain"`
	Amount  string `json:"amount"`

	// swap intent only
	SwapParams  string `json:"swapParams,omitempty"`
	TargetToken string `json:"targetToken,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
}

func (s *Server) handleTransferOut(w http.ResponseWriter, r *http.Request) {
	req, caller, token, to, amount, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}
	orderID, err := s.engine.TransferOut(caller, token, to, bridge.ChainID(req.ToChain), amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.countIntent("transfer")
	s.writeJSON(w, http.StatusOK, orderResponse{OrderID: hex.EncodeToString(orderID[:])})
}

func (s *Server) handleSwapOut(w http.ResponseWriter, r *http.Request) {
	req, caller, token, to, amount, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}
	params, err := decodeHexField(req.SwapParams)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "swapParams must be hex")
		return
	}
	target, err := decodeHexField(req.TargetToken)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "targetToken must be hex")
		return
	}
	payload := bridge.SwapPayload{Params: params, TargetToken: target}
	orderID, err := s.engine.SwapOut(caller, token, to, bridge.ChainID(req.ToChain), amount, payload)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.countIntent("swap")
	s.writeJSON(w, http.StatusOK, orderResponse{OrderID: hex.EncodeToString(orderID[:])})
}

func (s *Server) handleDepositOut(w http.ResponseWriter, r *http.Request) {
	_, caller, token, to, amount, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}
	orderID, err := s.engine.DepositOut(caller, token, to, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.countIntent("deposit")
	s.writeJSON(w, http.StatusOK, orderResponse{OrderID: hex.EncodeToString(orderID[:])})
}

type withdrawRequest struct {
	Caller     string `json:"caller"`
	VaultToken string `json:"vaultToken"`
	Shares     string `json:"shares"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, err := decodeHexField(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "caller must be hex")
		return
	}
	vaultToken, err := decodeHexField(req.VaultToken)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "vaultToken must be hex")
		return
	}
	shares, ok := parseAmount(req.Shares)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "shares must be a positive decimal")
		return
	}
	amount, err := s.engine.Withdraw(caller, vaultToken, shares)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) decodeIntent(w http.ResponseWriter, r *http.Request) (intentRequest, []byte, []byte, []byte, *big.Int, bool) {
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return req, nil, nil, nil, nil, false
	}
	caller, err := decodeHexField(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "caller must be hex")
		return req, nil, nil, nil, nil, false
	}
	token, err := decodeHexField(req.Token)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "token must be hex")
		return req, nil, nil, nil, nil, false
	}
	to, err := decodeHexField(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "to must be hex")
		return req, nil, nil, nil, nil, false
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return req, nil, nil, nil, nil, false
	}
	return req, caller, token, to, amount, true
}

func (s *Server) countIntent(kind string) {
	if s.metrics != nil {
		s.metrics.OutboundIntents.WithLabelValues(kind).Inc()
	}
}

// writeEngineError maps engine sentinel errors onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bridge.ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, bridge.ErrOrderExists):
		status = http.StatusConflict
	case errors.Is(err, bridge.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, bridge.ErrNotRelay):
		status = http.StatusForbidden
	case errors.Is(err, bridge.ErrSameChain),
		errors.Is(err, bridge.ErrZeroAmount),
		errors.Is(err, bridge.ErrZeroAddress),
		errors.Is(err, bridge.ErrFeeRateBound):
		status = http.StatusBadRequest
	case errors.Is(err, bridge.ErrChainNotRegistered),
		errors.Is(err, bridge.ErrVaultNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, bridge.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case strings.Contains(err.Error(), "proof rejected"):
		status = http.StatusUnprocessableEntity
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func decodeHexField(value string) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if value == "" {
		return nil, nil
	}
	return hex.DecodeString(value)
}

func parseAmount(value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}
