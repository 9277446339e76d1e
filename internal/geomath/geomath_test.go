package geomath

import (
	"errors"
	"math"
	"testing"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	c := models.Coord{Lat: 28.6315, Lng: 77.2167}
	d, err := DistanceKm(c, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := models.Coord{Lat: 28.6315, Lng: 77.2167}
	b := models.Coord{Lat: 28.6139, Lng: 77.2090}
	d1, err := DistanceKm(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := DistanceKm(b, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(d1-d2) > 1e-12 {
		t.Fatalf("expected symmetric distance, got %f vs %f", d1, d2)
	}
}

func TestDistanceKnownRoute(t *testing.T) {
	// Connaught Place to India Gate area, ~2.1 km apart as the crow flies.
	a := models.Coord{Lat: 28.6315, Lng: 77.2167}
	b := models.Coord{Lat: 28.6139, Lng: 77.2090}
	d, err := DistanceKm(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d <= 0 || d > 5 {
		t.Fatalf("implausible distance %f", d)
	}
}

func TestDistanceInvalidCoordinate(t *testing.T) {
	good := models.Coord{Lat: 1, Lng: 1}
	bad := []models.Coord{
		{Lat: math.NaN(), Lng: 0},
		{Lat: 0, Lng: math.NaN()},
		{Lat: 91, Lng: 0},
		{Lat: 0, Lng: 181},
		{Lat: math.Inf(1), Lng: 0},
	}
	for _, c := range bad {
		if _, err := DistanceKm(good, c); err == nil {
			t.Fatalf("expected error for %+v", c)
		} else {
			var ice *InvalidCoordinateError
			if !errors.As(err, &ice) {
				t.Fatalf("expected InvalidCoordinateError, got %v", err)
			}
		}
	}
}

func TestETAMinutesByVehicleClass(t *testing.T) {
	cases := []struct {
		vc   models.VehicleClass
		dist float64
		want int
	}{
		{models.VehicleBike, 10, 30},
		{models.VehicleScooter, 10, 30},
		{models.VehicleMotorcycle, 10, 30},
		{models.VehicleCar, 10, 20},
		{models.VehicleBicycle, 10, 60},
		{models.VehicleOnFoot, 10, 60},
		{models.VehicleClass("hoverboard"), 10, 60},
		{models.VehicleCar, 2.97, 6}, // rounds 5.94 up
	}
	for _, c := range cases {
		if got := ETAMinutes(c.dist, c.vc); got != c.want {
			t.Fatalf("%s @ %.2fkm: expected %d, got %d", c.vc, c.dist, c.want, got)
		}
	}
}
