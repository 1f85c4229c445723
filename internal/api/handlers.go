// Package api exposes the wager engine over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/ledger"
	"github.com/weatherkings/wager-engine/internal/market"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/resolution"
)

// Handler serves the /api/v1 endpoints.
type Handler struct {
	market   *market.Service
	ledger   *ledger.Ledger
	resolver *resolution.Engine
	hub      *WSHub
}

// NewHandler creates a Handler. hub may be nil when WebSocket streaming is
// not needed.
func NewHandler(m *market.Service, lg *ledger.Ledger, res *resolution.Engine, hub *WSHub) *Handler {
	return &Handler{market: m, ledger: lg, resolver: res, hub: hub}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Route("/lines", func(r chi.Router) {
		r.Get("/", h.ListLines)
		r.Get("/tomorrow", h.LinesForTomorrow)
		r.Post("/generate", h.GenerateTomorrow)
		r.Post("/generate/location", h.GenerateForLocation)
		r.Post("/resolve", h.ResolveByDate)
		r.Get("/{lineID}", h.GetLine)
		r.Post("/{lineID}/resolve", h.ResolveLine)
	})

	r.Post("/wagers", h.PlaceWager)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.OpenAccount)
		r.Get("/{accountID}", h.GetAccount)
		r.Get("/{accountID}/wagers", h.WagerHistory)
		r.Get("/{accountID}/wagers/pending", h.PendingWagers)
	})

	r.Get("/geocode", h.Geocode)
}

// --- Request types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// GenerateForLocationResponse reports whether new lines were created.
type GenerateForLocationResponse struct {
	Created bool         `json:"created"`
	Lines   []model.Line `json:"lines"`
}

// --- Lines ---

// GenerateTomorrow handles POST /api/v1/lines/generate
func (h *Handler) GenerateTomorrow(w http.ResponseWriter, r *http.Request) {
	res, err := h.market.GenerateTomorrow(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GenerateForLocation handles POST /api/v1/lines/generate/location
func (h *Handler) GenerateForLocation(w http.ResponseWriter, r *http.Request) {
	var req market.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ls, created, err := h.market.GenerateForLocation(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, GenerateForLocationResponse{Created: created, Lines: nonNil(ls)})
}

// LinesForTomorrow handles GET /api/v1/lines/tomorrow
func (h *Handler) LinesForTomorrow(w http.ResponseWriter, r *http.Request) {
	ls, err := h.market.LinesForTomorrow(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ls))
}

// ListLines handles GET /api/v1/lines?city=<city>&date=YYYY-MM-DD
// The date defaults to tomorrow.
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if strings.TrimSpace(city) == "" {
		writeError(w, "city is required", http.StatusBadRequest)
		return
	}
	date, ok := dateParam(w, r, h.market.Tomorrow())
	if !ok {
		return
	}

	ls, err := h.market.LinesForCityAndDate(r.Context(), city, date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ls))
}

// GetLine handles GET /api/v1/lines/{lineID}
func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	l, err := h.market.Line(r.Context(), chi.URLParam(r, "lineID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ResolveLine handles POST /api/v1/lines/{lineID}/resolve
func (h *Handler) ResolveLine(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolver.ResolveLine(r.Context(), chi.URLParam(r, "lineID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResolveByDate handles POST /api/v1/lines/resolve?date=YYYY-MM-DD
// The date defaults to today.
func (h *Handler) ResolveByDate(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, h.market.Today())
	if !ok {
		return
	}
	res, err := h.resolver.ResolveBatchByDate(r.Context(), date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Wagers ---

// PlaceWager handles POST /api/v1/wagers
func (h *Handler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req ledger.PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := h.ledger.PlaceWager(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// --- Accounts ---

// OpenAccount handles POST /api/v1/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.ledger.OpenAccount(r.Context(), req.InitialBalance)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Account(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PendingWagers handles GET /api/v1/accounts/{accountID}/wagers/pending
func (h *Handler) PendingWagers(w http.ResponseWriter, r *http.Request) {
	ws, err := h.market.PendingWagers(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ws))
}

// WagerHistory handles GET /api/v1/accounts/{accountID}/wagers
func (h *Handler) WagerHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.market.WagerHistory(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// Geocode handles GET /api/v1/geocode?city=<name>
func (h *Handler) Geocode(w http.ResponseWriter, r *http.Request) {
	loc, err := h.market.Geocode(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// --- Helpers ---

func dateParam(w http.ResponseWriter, r *http.Request, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return fallback, true
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return d, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrUpstream):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainError maps err to a status. Internal failures are logged and
// their detail is not sent to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
