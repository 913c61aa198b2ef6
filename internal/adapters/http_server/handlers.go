// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"staybook/internal/adapters/paygate"
	"staybook/internal/app"
	"staybook/internal/domain"
	"staybook/internal/pricing"
)

const maxBodyBytes = 1 << 20

type Ledger interface {
	Quote(ctx context.Context, req pricing.ChargeRequest) (pricing.Charges, error)
	PreviewCommission(ctx context.Context, realtorID string, roomFee decimal.Decimal) (pricing.Commission, error)
	Checkout(ctx context.Context, req app.CheckoutRequest) (app.CheckoutResult, error)
	Booking(ctx context.Context, id string) (app.BookingView, error)
	ConfirmPayment(ctx context.Context, bookingID, actor string) (domain.Payment, error)
	CancelBooking(ctx context.Context, bookingID, actor string) (app.CancelResult, error)
	ProcessBookingRefund(ctx context.Context, bookingID, actor string) (app.RefundResult, error)
	ReleaseEscrow(ctx context.Context, req app.ReleaseRequest) (app.ReleaseResult, error)
}

type Payouts interface {
	RequestWithdrawal(ctx context.Context, req app.WithdrawalRequest) (domain.Withdrawal, error)
	Withdrawal(ctx context.Context, id string) (domain.Withdrawal, error)
}

type Config interface {
	Current() (domain.CommissionConfig, error)
	Validate(raw map[string]any) (domain.CommissionConfig, error)
	Activate(ctx context.Context, raw map[string]any, actor string) (domain.CommissionConfig, error)
}

type Handlers struct {
	Ledger  Ledger
	Payouts Payouts
	Config  Config
}

type problem struct {
	Type   string   `json:"type"`
	Title  string   `json:"title"`
	Status int      `json:"status"`
	Detail string   `json:"detail,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Route("/admin/commission-config", func(r chi.Router) {
			r.Get("/", h.getConfig)
			r.Put("/", h.activateConfig)
			r.Post("/validate", h.validateConfig)
		})
		r.Post("/quotes", h.quote)
		r.Post("/commission/preview", h.previewCommission)

		r.Post("/bookings", h.checkout)
		r.Get("/bookings/{id}", h.getBooking)
		r.Post("/bookings/{id}/confirm", h.confirm)
		r.Post("/bookings/{id}/cancel", h.cancel)
		r.Post("/bookings/{id}/refund", h.refund)
		r.Post("/bookings/{id}/release", h.release)

		r.Post("/withdrawals", h.requestWithdrawal)
		r.Get("/withdrawals/{id}", h.getWithdrawal)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemBody(w, problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

func writeProblemBody(w http.ResponseWriter, p problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain and adapter errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr   *domain.ConfigurationError
		stateErr *domain.InvalidStateError
		gwErr    *domain.ExternalGatewayError
	)
	switch {
	case errors.As(err, &cfgErr):
		writeProblemBody(w, problem{Type: "about:blank", Title: "Invalid Configuration", Status: http.StatusUnprocessableEntity,
			Detail: "commission config is invalid", Errors: cfgErr.Problems})
	case errors.As(err, &stateErr):
		writeProblem(w, http.StatusConflict, "Invalid State", stateErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrBelowMinimumWithdrawal),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, pricing.ErrInvalidChargeRequest):
		writeProblem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	case errors.Is(err, paygate.ErrRejected):
		writeProblem(w, http.StatusUnprocessableEntity, "Payment Rejected", err.Error())
	case errors.As(err, &gwErr):
		writeProblem(w, http.StatusBadGateway, "Payment Gateway Error", gwErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, "Timeout", "request timed out")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched when
// optional is set.
func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeCacheable serves v with a weak ETag and honours If-None-Match.
func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

// ---- commission config ----

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Config.Current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, cfg)
}

func (h *Handlers) validateConfig(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if !decode(w, r, &raw, false) {
		return
	}
	cfg, err := h.Config.Validate(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) activateConfig(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if !decode(w, r, &raw, false) {
		return
	}
	cfg, err := h.Config.Activate(r.Context(), raw, actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ---- pricing ----

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request) {
	var req pricing.ChargeRequest
	if !decode(w, r, &req, false) {
		return
	}
	charges, err := h.Ledger.Quote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, charges)
}

type previewRequest struct {
	RealtorID string          `json:"realtor_id"`
	RoomFee   decimal.Decimal `json:"room_fee"`
}

func (h *Handlers) previewCommission(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req, false) {
		return
	}
	c, err := h.Ledger.PreviewCommission(r.Context(), req.RealtorID, req.RoomFee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ---- bookings ----

func (h *Handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req app.CheckoutRequest
	if !decode(w, r, &req, false) {
		return
	}
	res, err := h.Ledger.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/bookings/"+res.Booking.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	v, err := h.Ledger.Booking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, v)
}

func (h *Handlers) confirm(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// cancel answers 202 when the booking is cancelled but its refund is still owed.
func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.CancelBooking(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.RefundPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *Handlers) refund(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.ProcessBookingRefund(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type releaseBody struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handlers) release(w http.ResponseWriter, r *http.Request) {
	var body releaseBody
	if !decode(w, r, &body, true) {
		return
	}
	res, err := h.Ledger.ReleaseEscrow(r.Context(), app.ReleaseRequest{
		BookingID: chi.URLParam(r, "id"),
		Amount:    body.Amount,
		Actor:     actorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- withdrawals ----

func (h *Handlers) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req app.WithdrawalRequest
	if !decode(w, r, &req, false) {
		return
	}
	wd, err := h.Payouts.RequestWithdrawal(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if wd.Status != domain.WithdrawalCompleted {
		// recorded, the retry job owns it from here
		status = http.StatusAccepted
	}
	w.Header().Set("Location", "/v1/withdrawals/"+wd.ID)
	writeJSON(w, status, wd)
}

func (h *Handlers) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := h.Payouts.Withdrawal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, wd)
}
