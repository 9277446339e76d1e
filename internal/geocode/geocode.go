package geocode

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

// ErrAddressNotFound means the geocoder returned no result for the query.
var ErrAddressNotFound = errors.New("address not found")

// Geocoder turns a free-form address into coordinates. The dispatch core
// treats it as a black box; requests that already carry coordinates never
// touch it.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coord, error)
}

// GoogleGeocoder resolves addresses against the Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (models.Coord, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return models.Coord{}, err
	}
	if len(results) == 0 {
		return models.Coord{}, ErrAddressNotFound
	}
	loc := results[0].Geometry.Location
	return models.Coord{Lat: loc.Lat, Lng: loc.Lng}, nil
}
