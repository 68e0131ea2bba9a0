// Package api exposes the execution engine over HTTP: order submission and
// cancellation, signal intake, ledger queries, and a WebSocket feed of
// applied order updates.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ctrader/internal/domain"
	"ctrader/internal/execution"
	"ctrader/internal/gateway"
	"ctrader/internal/ledger"
	"ctrader/internal/risk"
)

// Server serves the engine's REST and WebSocket endpoints.
type Server struct {
	log     *slog.Logger
	manager *execution.Manager
	handler *execution.Handler
	execs   ledger.ExecutionStore
	signals ledger.SignalStore
	hub     *Hub
	venue   string
}

// NewServer creates a Server around the given engine components. hub may be
// nil when no WebSocket feed is wanted.
func NewServer(log *slog.Logger, manager *execution.Manager, handler *execution.Handler,
	execs ledger.ExecutionStore, signals ledger.SignalStore, hub *Hub, venue string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:     log.With("component", "api"),
		manager: manager,
		handler: handler,
		execs:   execs,
		signals: signals,
		hub:     hub,
		venue:   venue,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("POST /api/signals", s.handleCreateSignal)
	mux.HandleFunc("GET /api/signals", s.handleListSignals)
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.hub != nil {
		mux.HandleFunc("GET /api/ws", s.hub.handleWS)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP status codes. Ambiguous cancels
// and transport failures surface as bad gateway: the venue's answer, not
// ours, is what is missing.
func statusFor(err error) int {
	var vErr *domain.ValidationError
	var rErr *risk.Error
	var cErr *execution.CancelError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.As(err, &rErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cErr):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrNotFound), gateway.IsNotFound(err):
		return http.StatusNotFound
	case gateway.IsVenueRejected(err):
		return http.StatusUnprocessableEntity
	case gateway.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseLimit extracts the "limit" query param, falling back to def.
func parseLimit(r *http.Request, def int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID, err := s.manager.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, CreateOrderResponse{OrderID: orderID})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.manager.ListOpenOrders(r.Context(), r.URL.Query().Get("symbol"))
	writeJSON(w, OrdersResponse{Orders: orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.GetOrderStatus(r.Context(), r.PathValue("id"), r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	err := s.manager.CancelOrder(r.Context(), r.PathValue("id"), r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID, err := s.handler.HandleSignal(r.Context(), sig)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, CreateOrderResponse{OrderID: orderID})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	sigs, err := s.signals.ListSignals(r.Context(), r.URL.Query().Get("strategy_id"), parseLimit(r, 100))
	if err != nil {
		s.log.Error("listing signals", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, SignalsResponse{Signals: sigs})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !domain.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	recs, err := s.execs.List(r.Context(), status, parseLimit(r, 100))
	if err != nil {
		s.log.Error("listing executions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, ExecutionsResponse{Executions: recs})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.execs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		s.log.Error("loading execution", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{
		Status:        "ok",
		Venue:         s.venue,
		TrackedOrders: s.manager.TrackedCount(),
		Time:          time.Now().UTC(),
	})
}
