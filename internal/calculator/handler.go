// Package calculator is the HTTP service behind the Mini-App zakat
// calculator: live preview, submit, nisab, history and payment.
package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sadaka-platform/zakat"
	"github.com/sadaka-platform/zakat/internal/backend"
	"github.com/sadaka-platform/zakat/internal/form"
	"github.com/sadaka-platform/zakat/internal/nisab"
	"github.com/sadaka-platform/zakat/internal/telegram"
)

// DefaultPaymentMethod is used when a pay request names none.
const DefaultPaymentMethod = "yookassa"

// Backend is the subset of the backend client the handlers use.
type Backend interface {
	Calculate(ctx context.Context, userID int64, in zakat.Inputs) (backend.Calculation, error)
	Pay(ctx context.Context, zakatID int64, paymentMethod string) (backend.PaymentResponse, error)
	ConfirmPayment(ctx context.Context, zakatID int64, paymentID string) error
	History(ctx context.Context, userID int64) ([]backend.Calculation, error)
}

// Handler serves the calculator endpoints.
type Handler struct {
	nisab   nisab.Provider
	backend Backend
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a Handler. A nil backend disables submit, history
// and payment endpoints.
func NewHandler(provider nisab.Provider, b Backend, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		nisab:   provider,
		backend: b,
		timeout: timeout,
		logger:  logger,
	}
}

type CalculateRequestDTO struct {
	Fields        map[string]json.RawMessage `json:"fields"`
	AcceptedTerms bool                       `json:"accepted_terms"`
}

type CalculateResponseDTO struct {
	Calculation backend.Calculation `json:"calculation"`
	Preview     zakat.Result        `json:"preview"`
}

type PayRequestDTO struct {
	PaymentMethod string `json:"payment_method"`
}

type ConfirmRequestDTO struct {
	PaymentID string `json:"payment_id"`
}

// GET /api/v1/zakat/nisab
func (h *Handler) GetNisab(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	info, err := h.nisab.Current(ctx)
	if err != nil {
		h.logger.Error("resolve nisab", zap.Error(err))
		respondError(w, http.StatusBadGateway, "nisab_unavailable", "could not resolve nisab")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// POST /api/v1/zakat/preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	in, ok := h.parseFields(w, fields)
	if !ok {
		return
	}

	result, ok := h.compute(ctx, w, in)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// POST /api/v1/zakat/calc
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !h.requireBackend(w) {
		return
	}

	var req CalculateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	in, ok := h.parseFields(w, req.Fields)
	if !ok {
		return
	}

	sub := form.Submission{Inputs: in, AcceptedTerms: req.AcceptedTerms}
	if err := sub.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "terms_not_accepted", err.Error())
		return
	}

	preview, ok := h.compute(ctx, w, sub.Inputs)
	if !ok {
		return
	}

	calc, err := h.backend.Calculate(ctx, userID, sub.Inputs)
	if err != nil {
		h.handleBackendError(w, "submit calculation", err)
		return
	}

	h.logger.Info("zakat calculated",
		zap.Int64("user_id", userID),
		zap.Int64("calculation_id", calc.ID),
		zap.Bool("exceeds_nisab", preview.ExceedsNisab),
	)
	respondJSON(w, http.StatusCreated, CalculateResponseDTO{
		Calculation: calc,
		Preview:     preview,
	})
}

// GET /api/v1/zakat/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !h.requireBackend(w) {
		return
	}

	calcs, err := h.backend.History(ctx, userID)
	if err != nil {
		h.handleBackendError(w, "load history", err)
		return
	}
	if calcs == nil {
		calcs = []backend.Calculation{}
	}
	respondJSON(w, http.StatusOK, calcs)
}

// POST /api/v1/zakat/{id}/pay
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := h.requireUser(w, r); !ok {
		return
	}
	if !h.requireBackend(w) {
		return
	}
	zakatID, ok := parseID(w, r)
	if !ok {
		return
	}

	var req PayRequestDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = DefaultPaymentMethod
	}

	resp, err := h.backend.Pay(ctx, zakatID, req.PaymentMethod)
	if err != nil {
		h.handleBackendError(w, "initiate payment", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/zakat/{id}/confirm
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := h.requireUser(w, r); !ok {
		return
	}
	if !h.requireBackend(w) {
		return
	}
	zakatID, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ConfirmRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.PaymentID == "" {
		respondError(w, http.StatusBadRequest, "missing_payment_id", "payment_id is required")
		return
	}

	if err := h.backend.ConfirmPayment(ctx, zakatID, req.PaymentID); err != nil {
		h.handleBackendError(w, "confirm payment", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"zakat_id": zakatID, "is_paid": true})
}

func (h *Handler) compute(ctx context.Context, w http.ResponseWriter, in zakat.Inputs) (zakat.Result, bool) {
	info, err := h.nisab.Current(ctx)
	if err != nil {
		h.logger.Error("resolve nisab", zap.Error(err))
		respondError(w, http.StatusBadGateway, "nisab_unavailable", "could not resolve nisab")
		return zakat.Result{}, false
	}
	return info.Config().Compute(in), true
}

func (h *Handler) parseFields(w http.ResponseWriter, fields map[string]json.RawMessage) (zakat.Inputs, bool) {
	raw, err := rawFields(fields)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return zakat.Inputs{}, false
	}

	in, err := form.Parse(raw)
	if err != nil {
		respondFieldErrors(w, err)
		return zakat.Inputs{}, false
	}
	return in, true
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := telegram.FromContext(r.Context()).UserID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing telegram user")
		return 0, false
	}
	return userID, true
}

func (h *Handler) requireBackend(w http.ResponseWriter) bool {
	if h.backend == nil {
		respondError(w, http.StatusServiceUnavailable, "backend_not_configured", "no backend configured")
		return false
	}
	return true
}

func (h *Handler) handleBackendError(w http.ResponseWriter, op string, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", apiErrDetail(err, "not found"))
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		respondError(w, apiErr.StatusCode, "backend_rejected", apiErr.Detail)
	default:
		h.logger.Error(op, zap.Error(err))
		respondJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:     "backend unavailable, please retry",
			Code:      "backend_unavailable",
			Retryable: true,
		})
	}
}

func apiErrDetail(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
