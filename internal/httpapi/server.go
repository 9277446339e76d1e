package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/dispatch"
	"github.com/Hillfoul007/cleancare-dispatch/internal/geocode"
	"github.com/Hillfoul007/cleancare-dispatch/internal/ledger"
	"github.com/Hillfoul007/cleancare-dispatch/internal/match"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

// HeartbeatPublisher forwards rider heartbeats to the ingest pipeline.
// Satisfied by ingest.KafkaProducer.
type HeartbeatPublisher interface {
	PublishHeartbeat(hb models.RiderHeartbeat) error
}

// Deps collects everything the HTTP layer is wired with. Kafka and
// Geocoder are optional.
type Deps struct {
	Coordinator *dispatch.Coordinator
	Bookings    *dispatch.BookingService
	Ledger      *ledger.Ledger
	Match       *match.Engine
	Directory   directory.Directory
	Kafka       HeartbeatPublisher
	Geocoder    geocode.Geocoder
	Logger      *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/assign", s.handleAssignRider).Methods("POST")
	api.HandleFunc("/requests/{id}/status", s.handleAdvanceStatus).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/fail", s.handleFailRequest).Methods("POST")

	api.HandleFunc("/riders", s.handleRegisterRider).Methods("POST")
	api.HandleFunc("/riders/nearby", s.handleNearbyRiders).Methods("GET")
	api.HandleFunc("/riders/{rider_id}/location", s.handleSetLocation).Methods("POST")
	api.HandleFunc("/riders/{rider_id}/online", s.handleSetOnline).Methods("POST")
	api.HandleFunc("/riders/{rider_id}/earnings", s.handleRiderEarnings).Methods("GET")
	api.HandleFunc("/riders/{rider_id}/adjustments", s.handlePostAdjustment).Methods("POST")

	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings/{id}/status", s.handleAdvanceBooking).Methods("POST")
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancelBooking).Methods("POST")
	api.HandleFunc("/bookings/{id}/schedule", s.handleRescheduleBooking).Methods("PATCH")

	s.mux.HandleFunc("/ws/riders/{rider_id}", s.handleRiderWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
