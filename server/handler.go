// Package server exposes the storefront payment routes over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/session"
	"github.com/vitwit/stablepay/types"
	"github.com/vitwit/stablepay/utils"
)

const (
	PublishableKeyHeader = "x-publishable-api-key"
	// OperatorKeyHeader carries the server-side secret that may create sessions.
	OperatorKeyHeader = "x-stablepay-operator-key"

	maxBodyBytes = 1 << 20
)

// Payments is the part of the provider the routes drive.
type Payments interface {
	Identifier() string
	Network() types.Network
	PublishableKey() string
	InitiatePayment(ctx context.Context, in session.InitiateInput) (*types.PaymentSession, error)
	AuthorizePayment(ctx context.Context, sessionID, customerWallet, tokenType string) (*types.PaymentSession, error)
	RetrievePayment(ctx context.Context, sessionID string) (*types.PaymentSession, error)
}

type Option func(*Handler)

func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithOperatorKey enables session creation for callers presenting key in
// OperatorKeyHeader. Without it the route is not served: the amount is
// paid out of the merchant wallet and must not come from a storefront client.
func WithOperatorKey(key string) Option {
	return func(h *Handler) {
		h.operatorKey = key
	}
}

// WithMetricsGatherer serves g on /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// Handler routes storefront requests to the payment provider. Authorize is
// single-flight per session: a second call while one is running gets 409.
type Handler struct {
	payments Payments
	carts    CartSessions
	logger   logger.Logger
	gatherer prometheus.Gatherer
	mux      *http.ServeMux

	operatorKey string

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewHandler(payments Payments, carts CartSessions, opts ...Option) *Handler {
	h := &Handler{
		payments: payments,
		carts:    carts,
		logger:   logger.NoopLogger{},
		mux:      http.NewServeMux(),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.carts == nil {
		h.carts = NewMemoryCarts()
	}

	if h.operatorKey != "" {
		h.mux.HandleFunc("POST /store/solana-payment/sessions", h.operator(h.initiate))
	}
	h.mux.HandleFunc("POST /store/solana-payment/authorize", h.authenticated(h.authorize))
	h.mux.HandleFunc("GET /store/solana-payment/sessions/{id}", h.authenticated(h.retrieve))
	h.mux.HandleFunc("GET /healthz", h.health)
	if h.gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := h.payments.PublishableKey()
		if want != "" {
			got := r.Header.Get(PublishableKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid publishable key"})
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) operator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(OperatorKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.operatorKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid operator key"})
			return
		}
		next(w, r)
	}
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := utils.ParseInitiateRequest(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.payments.InitiatePayment(r.Context(), session.InitiateInput{
		AmountMinorUnits: req.Amount,
		CurrencyCode:     req.CurrencyCode,
		Metadata: types.SessionMetadata{
			CartID:     req.CartID,
			CustomerID: req.CustomerID,
		},
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.carts.Bind(r.Context(), req.CartID, s.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, successBody{Success: true, Data: s})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := utils.ParseAuthorizeRequest(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, err = h.carts.SessionForCart(r.Context(), req.CartID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}

	if !h.acquire(sessionID) {
		h.fail(w, r, types.NewError(types.ErrInvalidState, "authorization already in progress for session %s", sessionID))
		return
	}
	defer h.release(sessionID)

	s, err := h.payments.AuthorizePayment(r.Context(), sessionID, req.CustomerWallet, req.TokenType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// a failed payment is still a served request; status and error carry it.
	writeJSON(w, http.StatusOK, successBody{Success: s.Status != types.StatusError, Data: s})
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	s, err := h.payments.RetrievePayment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true, Data: s})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": h.payments.Identifier(),
		"network":  h.payments.Network().String(),
	})
}

func (h *Handler) acquire(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[id]; busy {
		return false
	}
	h.inflight[id] = struct{}{}
	return true
}

func (h *Handler) release(id string) {
	h.mu.Lock()
	delete(h.inflight, id)
	h.mu.Unlock()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	fields := map[string]any{
		"path":   r.URL.Path,
		"status": status,
		"code":   types.CodeOf(err),
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields)
		writeJSON(w, status, errorBody{
			Error:   "An error occurred while processing the payment",
			Code:    types.CodeOf(err),
			Details: err.Error(),
		})
		return
	}
	h.logger.Warn("request rejected", fields)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: types.CodeOf(err)})
}

// StatusFor maps a provider error to an HTTP status.
func StatusFor(err error) int {
	switch types.CodeOf(err) {
	case types.ErrInputValidation,
		types.ErrMissingWallet,
		types.ErrUnsupportedCurrency,
		types.ErrUnsupportedToken,
		types.ErrInvalidAddress:
		return http.StatusBadRequest
	case types.ErrSessionNotFound, types.ErrSessionDeleted:
		return http.StatusNotFound
	case types.ErrInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type successBody struct {
	Success bool                  `json:"success"`
	Data    *types.PaymentSession `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, types.WrapError(types.ErrInputValidation, err, "failed to read request body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
