package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/dispatch"
	"github.com/Hillfoul007/cleancare-dispatch/internal/geocode"
	"github.com/Hillfoul007/cleancare-dispatch/internal/geomath"
	"github.com/Hillfoul007/cleancare-dispatch/internal/match"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in dispatch.CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Payloads from the booking UI carry addresses only; resolve them
	// before validation when a geocoder is wired.
	if s.deps.Geocoder != nil {
		if in.PickupLoc == (models.Coord{}) && in.PickupAddress != "" {
			loc, err := s.deps.Geocoder.Geocode(r.Context(), in.PickupAddress)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			in.PickupLoc = loc
		}
		if in.DeliveryLoc == (models.Coord{}) && in.DeliveryAddress != "" {
			loc, err := s.deps.Geocoder.Geocode(r.Context(), in.DeliveryAddress)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			in.DeliveryLoc = loc
		}
	}
	req, err := s.deps.Coordinator.CreateRequest(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":              req.ID,
		"tracking_number": req.TrackingNumber,
		"status":          req.Status,
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.deps.Coordinator.Store.GetRequest(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAssignRider(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cand, err := s.deps.Coordinator.AssignRider(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rider_id":    cand.RiderID,
		"distance_km": cand.DistanceKm,
		"eta_minutes": cand.ETAMinutes,
	})
}

func (s *Server) handleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Target models.DeliveryStatus `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Coordinator.AdvanceStatus(r.Context(), id, body.Target); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Coordinator.CancelRequest(r.Context(), id, body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFailRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.deps.Coordinator.FailRequest(r.Context(), id, body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type registerRiderPayload struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Vehicle         string  `json:"vehicle"`
	ServiceRadiusKm float64 `json:"service_radius_km"`
	Rating          float64 `json:"rating"`
	Status          string  `json:"status"`
}

// riderRegistrar is satisfied by both directory implementations;
// registration is not part of the narrow Directory interface the engine
// needs.
type riderRegistrar interface {
	Register(ctx context.Context, r models.Rider) error
}

func (s *Server) handleRegisterRider(w http.ResponseWriter, r *http.Request) {
	var p registerRiderPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.ID == "" || p.Name == "" {
		http.Error(w, "id and name required", http.StatusBadRequest)
		return
	}
	if p.ServiceRadiusKm <= 0 {
		http.Error(w, "service_radius_km must be > 0", http.StatusBadRequest)
		return
	}
	status := models.AccountStatus(p.Status)
	if status == "" {
		status = models.AccountPending
	}
	rd := models.Rider{
		ID:              p.ID,
		Name:            p.Name,
		Vehicle:         models.VehicleClass(p.Vehicle),
		Rating:          p.Rating,
		ServiceRadiusKm: p.ServiceRadiusKm,
		Status:          status,
	}
	reg, ok := s.deps.Directory.(riderRegistrar)
	if !ok {
		http.Error(w, "registration unsupported", http.StatusNotImplemented)
		return
	}
	if err := reg.Register(r.Context(), rd); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) handleNearbyRiders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lng query params required", http.StatusBadRequest)
		return
	}
	radius := 15.0
	if v := q.Get("radius_km"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			radius = f
		}
	}
	cands, err := s.deps.Match.FindCandidates(r.Context(), models.Coord{Lat: lat, Lng: lng}, radius, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cands)
}

func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !geomath.Valid(loc) {
		s.writeError(w, r, &geomath.InvalidCoordinateError{Coord: loc})
		return
	}
	if err := s.deps.Directory.SetLocation(r.Context(), riderID, loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Kafka != nil {
		// a location update must not change the rider's online flag;
		// publish whatever the directory holds
		hb := models.RiderHeartbeat{RiderID: riderID, Loc: loc, At: time.Now()}
		if rd, err := s.deps.Directory.Get(r.Context(), riderID); err == nil {
			hb.Online = rd.Online
		}
		if err := s.deps.Kafka.PublishHeartbeat(hb); err != nil {
			s.logger.Warn("heartbeat publish failed", "rider_id", riderID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	var body struct {
		Online bool          `json:"online"`
		Loc    *models.Coord `json:"loc,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Loc != nil && !geomath.Valid(*body.Loc) {
		s.writeError(w, r, &geomath.InvalidCoordinateError{Coord: *body.Loc})
		return
	}
	if err := s.deps.Directory.SetOnline(r.Context(), riderID, body.Online, body.Loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRiderEarnings(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	period := r.URL.Query().Get("period") // YYYY-MM, optional
	entries, err := s.deps.Ledger.RiderEarnings(r.Context(), riderID, period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.EarningsEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePostAdjustment(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	var body struct {
		Amount float64            `json:"amount"`
		Type   models.EarningType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := s.deps.Ledger.PostAdjustment(r.Context(), riderID, body.Amount, body.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var in dispatch.CreateBookingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.deps.Geocoder != nil && in.Loc == (models.Coord{}) && in.Address != "" {
		loc, err := s.deps.Geocoder.Geocode(r.Context(), in.Address)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		in.Loc = loc
	}
	b, err := s.deps.Bookings.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleAdvanceBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Target models.BookingStatus `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.deps.Bookings.Advance(r.Context(), id, body.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.deps.Bookings.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.deps.Bookings.Reschedule(r.Context(), id, body.ScheduledAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *dispatch.ValidationError
	var ice *geomath.InvalidCoordinateError
	switch {
	case errors.As(err, &ve), errors.As(err, &ice), errors.Is(err, geocode.ErrAddressNotFound):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, directory.ErrRiderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, dispatch.ErrNoRiderAvailable):
		// normal business outcome, not a fault
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "no riders nearby"})
	case errors.Is(err, dispatch.ErrInvalidState),
		errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrAlreadyAssigned),
		errors.Is(err, dispatch.ErrCancelWindowClosed),
		errors.Is(err, dispatch.ErrEditWindowClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, match.ErrDirectoryUnavailable), errors.Is(err, directory.ErrUnavailable):
		http.Error(w, "temporarily unavailable, try again", http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
