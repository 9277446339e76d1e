package match

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

type fakeDirectory struct {
	riders []models.Rider
	err    error
}

func (f *fakeDirectory) ListEligible(ctx context.Context) ([]models.Rider, error) {
	return f.riders, f.err
}

func (f *fakeDirectory) Get(ctx context.Context, id string) (models.Rider, error) {
	return models.Rider{}, directory.ErrRiderNotFound
}
func (f *fakeDirectory) SetLocation(ctx context.Context, id string, loc models.Coord) error {
	return nil
}
func (f *fakeDirectory) SetOnline(ctx context.Context, id string, online bool, loc *models.Coord) error {
	return nil
}
func (f *fakeDirectory) SetActiveRequest(ctx context.Context, id, reqID string) error { return nil }
func (f *fakeDirectory) RecordCompletion(ctx context.Context, id string, amount float64, when time.Time) error {
	return nil
}
func (f *fakeDirectory) RecordCancellation(ctx context.Context, id string) error { return nil }

func rider(id string, lat, lng, radius, rating float64, vc models.VehicleClass) models.Rider {
	return models.Rider{
		ID:              id,
		Vehicle:         vc,
		Rating:          rating,
		Online:          true,
		Loc:             &models.Coord{Lat: lat, Lng: lng},
		ServiceRadiusKm: radius,
		Status:          models.AccountActive,
	}
}

func TestFindCandidatesSingleRider(t *testing.T) {
	// One online car rider ~3 km from the pickup.
	f := &fakeDirectory{riders: []models.Rider{
		rider("r1", 28.6139, 77.2090, 20, 4.5, models.VehicleCar),
	}}
	e := &Engine{Directory: f}

	got, err := e.FindCandidates(context.Background(), models.Coord{Lat: 28.6315, Lng: 77.2167}, 15, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c := got[0]
	if math.Abs(c.DistanceKm-2.97) > 0.5 {
		t.Fatalf("expected ~2.97 km, got %f", c.DistanceKm)
	}
	if c.ETAMinutes < 4 || c.ETAMinutes > 7 {
		t.Fatalf("expected ETA around 6 minutes for a car, got %d", c.ETAMinutes)
	}
	if c.Rating != 4.5 {
		t.Fatalf("expected rating carried through, got %f", c.Rating)
	}
}

func TestFindCandidatesRespectsRadii(t *testing.T) {
	pickup := models.Coord{Lat: 0, Lng: 0}
	f := &fakeDirectory{riders: []models.Rider{
		// ~11 km east: inside maxRadius but outside its own 5 km service radius
		rider("narrow", 0, 0.1, 5, 5.0, models.VehicleBike),
		// ~11 km east with a wide service radius: kept
		rider("wide", 0, 0.1, 50, 4.0, models.VehicleBike),
		// ~55 km east: beyond maxRadius
		rider("far", 0, 0.5, 100, 5.0, models.VehicleBike),
	}}
	e := &Engine{Directory: f}
	got, err := e.FindCandidates(context.Background(), pickup, 15, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].RiderID != "wide" {
		t.Fatalf("expected only [wide], got %+v", got)
	}
	for _, c := range got {
		if c.DistanceKm > 15 {
			t.Fatalf("candidate outside max radius: %+v", c)
		}
	}
}

func TestFindCandidatesOrderingAndTieBreaks(t *testing.T) {
	pickup := models.Coord{Lat: 0, Lng: 0}
	f := &fakeDirectory{riders: []models.Rider{
		rider("b-far", 0, 0.02, 50, 5.0, models.VehicleBike),
		rider("z-near", 0, 0.01, 50, 3.0, models.VehicleBike),
		// same spot as z-near but better rated: must rank above it
		rider("a-near", 0, 0.01, 50, 4.0, models.VehicleBike),
		// identical distance and rating: rider ID decides
		rider("c-near", 0, 0.01, 50, 4.0, models.VehicleBike),
	}}
	e := &Engine{Directory: f}
	got, err := e.FindCandidates(context.Background(), pickup, 15, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a-near", "c-near", "z-near", "b-far"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].RiderID != id {
			t.Fatalf("position %d: expected %s, got %s (full: %+v)", i, id, got[i].RiderID, got)
		}
	}
}

func TestFindCandidatesLimit(t *testing.T) {
	pickup := models.Coord{Lat: 0, Lng: 0}
	riders := make([]models.Rider, 0, 30)
	for i := 0; i < 30; i++ {
		riders = append(riders, rider(string(rune('a'+i)), 0, 0.001*float64(i+1), 50, 4.0, models.VehicleBike))
	}
	e := &Engine{Directory: &fakeDirectory{riders: riders}}
	got, err := e.FindCandidates(context.Background(), pickup, 15, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != DefaultLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultLimit, len(got))
	}
	got, _ = e.FindCandidates(context.Background(), pickup, 15, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
}

func TestFindCandidatesEmptyIsNotAnError(t *testing.T) {
	e := &Engine{Directory: &fakeDirectory{}}
	got, err := e.FindCandidates(context.Background(), models.Coord{Lat: 0, Lng: 0}, 15, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestFindCandidatesDirectoryFailure(t *testing.T) {
	e := &Engine{Directory: &fakeDirectory{err: errors.New("connection refused")}}
	_, err := e.FindCandidates(context.Background(), models.Coord{Lat: 0, Lng: 0}, 15, 0)
	if !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
}
