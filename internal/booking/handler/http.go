package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/fuelqueue/internal/auth"
	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/projection"
	"github.com/example/fuelqueue/internal/booking/service"
	"github.com/example/fuelqueue/internal/booking/station"
)

// HTTP exposes the queue coordination endpoints.
type HTTP struct {
	svc       *service.Service
	gateway   *station.Gateway
	queues    *projection.Manager
	jwtSecret string
}

// NewHTTP constructs the handler.
func NewHTTP(svc *service.Service, gateway *station.Gateway, queues *projection.Manager, jwtSecret string) *HTTP {
	return &HTTP{svc: svc, gateway: gateway, queues: queues, jwtSecret: jwtSecret}
}

// Router builds the chi router. Customer endpoints accept any authenticated
// role; station control and advancement require operator-grade roles.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.jwtSecret))
		r.Post("/v1/bookings", h.createBooking)
		r.Get("/v1/bookings/{id}", h.getBooking)
		r.Post("/v1/bookings/{id}/cancel", h.cancelBooking)
		r.Post("/v1/bookings/{id}/checkin", h.checkIn)
		r.Get("/v1/stations/{id}/queue", h.stationQueue)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.jwtSecret, auth.RoleOperator, auth.RoleOwner, auth.RoleAdmin))
		r.Post("/v1/stations/{id}/advance", h.advance)
		r.Post("/v1/stations/{id}/skip", h.skipHead)
		r.Post("/v1/stations/{id}/gas", h.setGasAvailable)
		r.Post("/v1/stations/{id}/booking-open", h.setBookingOpen)
	})

	return r
}

type createBookingRequest struct {
	StationID string `json:"station_id"`
	VehicleID string `json:"vehicle_id"`
}

func (h *HTTP) createBooking(w http.ResponseWriter, r *http.Request) {
	claims, userID, ok := requester(w, r)
	if !ok {
		return
	}
	var payload createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.StationID == "" || payload.VehicleID == "" {
		http.Error(w, "station_id and vehicle_id are required", http.StatusBadRequest)
		return
	}

	booking, err := h.svc.CreateBooking(r.Context(), service.CreateBookingRequest{
		StationID:     payload.StationID,
		VehicleID:     payload.VehicleID,
		RequesterID:   userID,
		RequesterRole: claims.Role,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	booking, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	claims, userID, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	booking, err := h.svc.CancelBooking(r.Context(), id, userID, claims.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type checkInRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AccuracyM float64  `json:"accuracy_m"`
}

func (h *HTTP) checkIn(w http.ResponseWriter, r *http.Request) {
	claims, userID, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var payload checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var point *domain.GeoPoint
	if payload.Lat != nil && payload.Lng != nil {
		point = &domain.GeoPoint{Lat: *payload.Lat, Lng: *payload.Lng}
	}

	booking, err := h.svc.CheckIn(r.Context(), id, point, payload.AccuracyM, userID, claims.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *HTTP) stationQueue(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "id")
	if _, err := h.svc.Station(r.Context(), stationID); err != nil {
		writeError(w, err)
		return
	}
	lq, err := h.queues.Queue(stationID)
	if err != nil {
		writeError(w, err)
		return
	}

	bookings := lq.Bookings()
	resp := map[string]any{"station_id": stationID, "bookings": bookings}
	if head, ok := lq.Head(); ok {
		resp["head"] = head
	}
	if second, ok := lq.Second(); ok {
		resp["second"] = second
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTP) advance(w http.ResponseWriter, r *http.Request) {
	_, operatorID, ok := requester(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Advance(r.Context(), chi.URLParam(r, "id"), operatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTP) skipHead(w http.ResponseWriter, r *http.Request) {
	_, operatorID, ok := requester(w, r)
	if !ok {
		return
	}
	result, err := h.svc.SkipHead(r.Context(), chi.URLParam(r, "id"), operatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (h *HTTP) setGasAvailable(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.gateway.SetGasAvailable)
}

func (h *HTTP) setBookingOpen(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.gateway.SetBookingOpen)
}

func (h *HTTP) setFlag(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, stationID string, value bool, actorID uuid.UUID, role string) (domain.Station, error)) {
	claims, actorID, ok := requester(w, r)
	if !ok {
		return
	}
	var payload flagRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := set(r.Context(), chi.URLParam(r, "id"), payload.Value, actorID, claims.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func requester(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	userID, err := claims.UserID()
	if err != nil {
		http.Error(w, "invalid subject", http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	return claims, userID, true
}

func writeError(w http.ResponseWriter, err error) {
	var oor *domain.OutOfRangeError
	if errors.As(err, &oor) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      oor.Error(),
			"distance_m": oor.DistanceM,
			"radius_m":   oor.RadiusM,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrStationNotFound), errors.Is(err, domain.ErrBookingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStationUnavailable),
		errors.Is(err, domain.ErrDuplicateActiveBooking),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNoVehiclePresent):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrLocationUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransactionConflict):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
