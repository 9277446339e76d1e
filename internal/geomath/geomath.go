package geomath

import (
	"fmt"
	"math"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// InvalidCoordinateError reports a coordinate outside valid lat/lng bounds
// (or NaN/Inf). Validation failures are never retried.
type InvalidCoordinateError struct {
	Coord models.Coord
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate lat=%v lng=%v", e.Coord.Lat, e.Coord.Lng)
}

// Valid reports whether c is a finite coordinate within lat/lng bounds.
func Valid(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// DistanceKm returns the great-circle distance between a and b in km via
// the Haversine formula. Symmetric; zero iff the points coincide.
func DistanceKm(a, b models.Coord) (float64, error) {
	if !Valid(a) {
		return 0, &InvalidCoordinateError{Coord: a}
	}
	if !Valid(b) {
		return 0, &InvalidCoordinateError{Coord: b}
	}
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c, nil
}

// minutesPerKm maps vehicle classes to travel-time factors:
// ~20 km/h for powered two-wheelers, ~30 km/h for cars, ~10 km/h otherwise.
func minutesPerKm(vc models.VehicleClass) float64 {
	switch vc {
	case models.VehicleBike, models.VehicleScooter, models.VehicleMotorcycle:
		return 3
	case models.VehicleCar:
		return 2
	default:
		return 6
	}
}

// ETAMinutes estimates travel time for distanceKm by vehicle class,
// rounded to the nearest whole minute.
func ETAMinutes(distanceKm float64, vc models.VehicleClass) int {
	return int(math.Round(distanceKm * minutesPerKm(vc)))
}
