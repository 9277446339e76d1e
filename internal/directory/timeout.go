package directory

import (
	"context"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

// WithTimeout bounds every directory call with its own deadline.
func WithTimeout(inner Directory, d time.Duration) Directory {
	if d <= 0 {
		return inner
	}
	return &timeoutDirectory{inner: inner, d: d}
}

type timeoutDirectory struct {
	inner Directory
	d     time.Duration
}

func (t *timeoutDirectory) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.d)
}

// Register delegates when the wrapped directory supports registration.
func (t *timeoutDirectory) Register(ctx context.Context, r models.Rider) error {
	reg, ok := t.inner.(interface {
		Register(ctx context.Context, r models.Rider) error
	})
	if !ok {
		return ErrUnavailable
	}
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return reg.Register(ctx, r)
}

func (t *timeoutDirectory) Get(ctx context.Context, riderID string) (models.Rider, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.Get(ctx, riderID)
}

func (t *timeoutDirectory) SetLocation(ctx context.Context, riderID string, loc models.Coord) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.SetLocation(ctx, riderID, loc)
}

func (t *timeoutDirectory) SetOnline(ctx context.Context, riderID string, online bool, loc *models.Coord) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.SetOnline(ctx, riderID, online, loc)
}

func (t *timeoutDirectory) ListEligible(ctx context.Context) ([]models.Rider, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ListEligible(ctx)
}

func (t *timeoutDirectory) SetActiveRequest(ctx context.Context, riderID, requestID string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.SetActiveRequest(ctx, riderID, requestID)
}

func (t *timeoutDirectory) RecordCompletion(ctx context.Context, riderID string, amount float64, when time.Time) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.RecordCompletion(ctx, riderID, amount, when)
}

func (t *timeoutDirectory) RecordCancellation(ctx context.Context, riderID string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.RecordCancellation(ctx, riderID)
}
