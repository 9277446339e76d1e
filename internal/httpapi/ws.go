package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Hillfoul007/cleancare-dispatch/internal/geomath"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/observability"
)

var upgrader = websocket.Upgrader{}

// heartbeatFrame is what the rider app streams over the socket.
type heartbeatFrame struct {
	Loc    models.Coord `json:"loc"`
	Online bool         `json:"online"`
}

// handleRiderWS ingests a rider's location heartbeats. The socket is
// ingest-only: nothing is pushed back to the rider over it.
func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client on failure.
		s.logger.Warn("websocket upgrade failed", "rider_id", riderID, "error", err)
		return
	}
	defer conn.Close()

	observability.RidersOnline.Inc()
	defer observability.RidersOnline.Dec()
	s.logger.Info("rider connected", "rider_id", riderID)

	ctx := r.Context()
	for {
		var hb heartbeatFrame
		if err := conn.ReadJSON(&hb); err != nil {
			s.logger.Info("rider disconnected", "rider_id", riderID, "error", err)
			return
		}
		if !geomath.Valid(hb.Loc) {
			s.logger.Warn("invalid heartbeat coordinates", "rider_id", riderID)
			continue
		}
		if err := s.deps.Directory.SetOnline(ctx, riderID, hb.Online, &hb.Loc); err != nil {
			s.logger.Warn("heartbeat update failed", "rider_id", riderID, "error", err)
			continue
		}
		if s.deps.Kafka != nil {
			msg := models.RiderHeartbeat{RiderID: riderID, Loc: hb.Loc, Online: hb.Online, At: time.Now()}
			if err := s.deps.Kafka.PublishHeartbeat(msg); err != nil {
				s.logger.Warn("heartbeat publish failed", "rider_id", riderID, "error", err)
			}
		}
	}
}
