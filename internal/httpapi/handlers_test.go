package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/dispatch"
	"github.com/Hillfoul007/cleancare-dispatch/internal/ledger"
	"github.com/Hillfoul007/cleancare-dispatch/internal/match"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

func newTestServer(t *testing.T, kafka HeartbeatPublisher) (*Server, *directory.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.NewMemory()
	store := storage.NewMemoryStore()
	eng := &match.Engine{Directory: dir}
	led := ledger.New(store, dir, logger)
	coord := dispatch.NewCoordinator(store, eng, dir, led, logger)
	bookings := dispatch.NewBookingService(store, logger)
	srv := NewServer(Deps{
		Coordinator: coord,
		Bookings:    bookings,
		Ledger:      led,
		Match:       eng,
		Directory:   dir,
		Kafka:       kafka,
		Logger:      logger,
	})
	return srv, dir
}

func seedRider(t *testing.T, dir *directory.Memory, id string, loc models.Coord) {
	t.Helper()
	err := dir.Register(context.Background(), models.Rider{
		ID:              id,
		Name:            "Rider " + id,
		Vehicle:         models.VehicleBike,
		Rating:          4.5,
		ServiceRadiusKm: 10,
		Status:          models.AccountActive,
	})
	if err != nil {
		t.Fatalf("register rider: %v", err)
	}
	if err := dir.SetOnline(context.Background(), id, true, &loc); err != nil {
		t.Fatalf("set online: %v", err)
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = bytes.NewReader([]byte("{}"))
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func validCreatePayload() dispatch.CreateRequestInput {
	return dispatch.CreateRequestInput{
		CustomerID:      "cust-1",
		PickupAddress:   "12 Laundry Lane",
		DeliveryAddress: "48 Garment Road",
		PickupLoc:       models.Coord{Lat: 28.6139, Lng: 77.2090},
		DeliveryLoc:     models.Coord{Lat: 28.6353, Lng: 77.2250},
		PaymentMethod:   "cash",
		Fees:            models.FeeBreakdown{Base: 50, Distance: 30, Total: 80, RiderEarnings: 60},
	}
}

func TestCreateAndFetchRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, "POST", "/api/v1/requests", validCreatePayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID             string `json:"id"`
		TrackingNumber string `json:"tracking_number"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || created.TrackingNumber == "" || created.Status != "pending" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	rec = doJSON(t, srv, "GET", "/api/v1/requests/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status=%d", rec.Code)
	}
	var got models.DeliveryRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got.TrackingNumber != created.TrackingNumber {
		t.Fatalf("tracking mismatch: %s vs %s", got.TrackingNumber, created.TrackingNumber)
	}
}

func TestCreateRequest_ValidationRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	p := validCreatePayload()
	p.PickupLoc = models.Coord{Lat: 91, Lng: 0}
	rec := doJSON(t, srv, "POST", "/api/v1/requests", p)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAssignRider_EndToEnd(t *testing.T) {
	srv, dir := newTestServer(t, nil)
	seedRider(t, dir, "rider-1", models.Coord{Lat: 28.615, Lng: 77.210})

	rec := doJSON(t, srv, "POST", "/api/v1/requests", validCreatePayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status=%d", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/assign", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var assigned struct {
		RiderID    string  `json:"rider_id"`
		ETAMinutes int     `json:"eta_minutes"`
		DistanceKm float64 `json:"distance_km"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &assigned); err != nil {
		t.Fatalf("decode assign: %v", err)
	}
	if assigned.RiderID != "rider-1" {
		t.Fatalf("expected rider-1, got %q", assigned.RiderID)
	}

	// a second assign attempt conflicts
	rec = doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/assign", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-assign: expected 409, got %d", rec.Code)
	}
}

func TestAssignRider_NoneNearby(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, "POST", "/api/v1/requests", validCreatePayload())
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/assign", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "no riders nearby" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusAndCancelFlow(t *testing.T) {
	srv, dir := newTestServer(t, nil)
	seedRider(t, dir, "rider-1", models.Coord{Lat: 28.615, Lng: 77.210})

	rec := doJSON(t, srv, "POST", "/api/v1/requests", validCreatePayload())
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/assign", nil)

	// skipping picked_up is a conflict
	rec = doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/status", map[string]string{"target": "in_transit"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("skip: expected 409, got %d", rec.Code)
	}

	for _, target := range []string{"picked_up", "in_transit", "delivered"} {
		rec = doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/status", map[string]string{"target": target})
		if rec.Code != http.StatusOK {
			t.Fatalf("advance to %s: status=%d body=%s", target, rec.Code, rec.Body.String())
		}
	}

	// delivered request cannot be cancelled
	rec = doJSON(t, srv, "POST", "/api/v1/requests/"+created.ID+"/cancel", map[string]string{"reason": "late"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel delivered: expected 409, got %d", rec.Code)
	}

	// the completed delivery produced a ledger entry
	rec = doJSON(t, srv, "GET", "/api/v1/riders/rider-1/earnings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("earnings: status=%d", rec.Code)
	}
	var entries []models.EarningsEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode earnings: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != 60 {
		t.Fatalf("expected one 60.00 entry, got %+v", entries)
	}
}

func TestNearbyRiders(t *testing.T) {
	srv, dir := newTestServer(t, nil)
	seedRider(t, dir, "rider-near", models.Coord{Lat: 28.615, Lng: 77.210})
	seedRider(t, dir, "rider-far", models.Coord{Lat: 28.90, Lng: 77.60})

	rec := doJSON(t, srv, "GET", "/api/v1/riders/nearby?lat=28.6139&lng=77.2090&radius_km=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nearby: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var cands []models.Candidate
	if err := json.Unmarshal(rec.Body.Bytes(), &cands); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cands) != 1 || cands[0].RiderID != "rider-near" {
		t.Fatalf("expected only rider-near, got %+v", cands)
	}

	rec = doJSON(t, srv, "GET", "/api/v1/riders/nearby?lat=abc&lng=1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad query: expected 400, got %d", rec.Code)
	}
}

func TestRegisterRiderValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, "POST", "/api/v1/riders", map[string]any{"id": "r1", "name": "A", "service_radius_km": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, srv, "POST", "/api/v1/riders", map[string]any{
		"id": "r1", "name": "A", "vehicle": "bike", "service_radius_km": 8, "rating": 4.2, "status": "active",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRequestIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, "GET", "/api/v1/requests/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRiderWSRejectsPlainHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest("GET", "/ws/riders/rider-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	// the upgrader writes the rejection itself
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type capturingPublisher struct {
	beats []models.RiderHeartbeat
}

func (p *capturingPublisher) PublishHeartbeat(hb models.RiderHeartbeat) error {
	p.beats = append(p.beats, hb)
	return nil
}

func TestSetLocationPreservesOnlineFlag(t *testing.T) {
	pub := &capturingPublisher{}
	srv, dir := newTestServer(t, pub)
	loc := models.Coord{Lat: 28.615, Lng: 77.210}
	seedRider(t, dir, "rider-1", loc)
	if err := dir.SetOnline(context.Background(), "rider-1", false, &loc); err != nil {
		t.Fatalf("set offline: %v", err)
	}

	rec := doJSON(t, srv, "POST", "/api/v1/riders/rider-1/location", map[string]any{
		"lat": 28.620, "lng": 77.215,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set location: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rd, err := dir.Get(context.Background(), "rider-1")
	if err != nil {
		t.Fatalf("get rider: %v", err)
	}
	if rd.Online {
		t.Fatalf("location update flipped the rider online")
	}
	if len(pub.beats) != 1 {
		t.Fatalf("expected one heartbeat, got %d", len(pub.beats))
	}
	if pub.beats[0].Online {
		t.Fatalf("heartbeat for offline rider published online=true")
	}
	if pub.beats[0].Loc.Lat != 28.620 {
		t.Fatalf("heartbeat carried wrong location: %+v", pub.beats[0].Loc)
	}
}

func TestBookingEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	scheduled := time.Now().Add(24 * time.Hour).UTC()

	rec := doJSON(t, srv, "POST", "/api/v1/bookings", map[string]any{
		"customer_id":  "cust-1",
		"service":      "laundry_pickup",
		"address":      "12 Laundry Lane",
		"loc":          models.Coord{Lat: 28.61, Lng: 77.21},
		"scheduled_at": scheduled.Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create booking: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var b models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	if b.Status != models.BookingPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}

	rec = doJSON(t, srv, "POST", fmt.Sprintf("/api/v1/bookings/%s/status", b.ID), map[string]string{"target": "confirmed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status=%d body=%s", rec.Code, rec.Body.String())
	}

	newSlot := scheduled.Add(48 * time.Hour)
	rec = doJSON(t, srv, "PATCH", fmt.Sprintf("/api/v1/bookings/%s/schedule", b.ID), map[string]string{"scheduled_at": newSlot.Format(time.RFC3339)})
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "POST", fmt.Sprintf("/api/v1/bookings/%s/cancel", b.ID), map[string]string{"reason": "trip"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status=%d body=%s", rec.Code, rec.Body.String())
	}
}
