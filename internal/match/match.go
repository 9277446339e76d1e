package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/geomath"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/observability"
)

// ErrDirectoryUnavailable signals a directory backend failure, as opposed
// to the normal empty-candidates outcome.
var ErrDirectoryUnavailable = errors.New("rider directory unavailable")

const DefaultLimit = 20

// Engine ranks eligible riders around a pickup point.
type Engine struct {
	Directory directory.Directory
	Limit     int // default candidate cap when the caller passes 0
}

// FindCandidates returns eligible riders within min(rider service radius,
// maxRadiusKm) of pickup, sorted by distance ascending, rating descending,
// then rider ID for determinism, capped at limit. An empty slice is a
// normal outcome, not an error.
func (e *Engine) FindCandidates(ctx context.Context, pickup models.Coord, maxRadiusKm float64, limit int) ([]models.Candidate, error) {
	if !geomath.Valid(pickup) {
		return nil, &geomath.InvalidCoordinateError{Coord: pickup}
	}
	if limit <= 0 {
		limit = e.Limit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	riders, err := e.Directory.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	cands := make([]models.Candidate, 0, len(riders))
	for _, r := range riders {
		if r.Loc == nil {
			continue
		}
		dist, err := geomath.DistanceKm(pickup, *r.Loc)
		if err != nil {
			// a rider with a corrupt stored position is skipped, not fatal
			continue
		}
		radius := r.ServiceRadiusKm
		if maxRadiusKm < radius {
			radius = maxRadiusKm
		}
		if dist > radius {
			continue
		}
		cands = append(cands, models.Candidate{
			RiderID:    r.ID,
			DistanceKm: dist,
			ETAMinutes: geomath.ETAMinutes(dist, r.Vehicle),
			Rating:     r.Rating,
			Vehicle:    r.Vehicle,
		})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		if cands[i].Rating != cands[j].Rating {
			return cands[i].Rating > cands[j].Rating
		}
		return cands[i].RiderID < cands[j].RiderID
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}

	observability.CandidateSearchDuration.Observe(time.Since(start).Seconds())
	return cands, nil
}
