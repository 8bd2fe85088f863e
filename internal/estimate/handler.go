package estimate

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// HTTP exposes the estimate endpoints.
type HTTP struct {
	svc *Service
}

// NewHTTP creates the handler.
func NewHTTP(svc *Service) *HTTP {
	return &HTTP{svc: svc}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/estimate", h.queueEstimate)
	r.Get("/v1/checkin-preview", h.checkInPreview)
	return r
}

func (h *HTTP) queueEstimate(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	if stationID == "" {
		http.Error(w, "station_id is required", http.StatusBadRequest)
		return
	}
	est, err := h.svc.ForStation(r.Context(), stationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *HTTP) checkInPreview(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	vehicleID := r.URL.Query().Get("vehicle_id")
	if stationID == "" || vehicleID == "" {
		http.Error(w, "station_id and vehicle_id are required", http.StatusBadRequest)
		return
	}
	preview, err := h.svc.PreviewCheckIn(r.Context(), stationID, vehicleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrLocationUnavailable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
