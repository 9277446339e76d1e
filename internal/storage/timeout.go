package storage

import (
	"context"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

// Store bundles the three persistence interfaces a full deployment wires.
type Store interface {
	RequestStore
	BookingStore
	EarningsStore
}

// WithTimeout bounds every call on s with its own deadline.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{s: s, d: d}
}

type timeoutStore struct {
	s Store
	d time.Duration
}

func (t *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.d)
}

func (t *timeoutStore) CreateRequest(ctx context.Context, r *models.DeliveryRequest) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.CreateRequest(ctx, r)
}

func (t *timeoutStore) GetRequest(ctx context.Context, id string) (models.DeliveryRequest, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.GetRequest(ctx, id)
}

func (t *timeoutStore) GetByTracking(ctx context.Context, trackingNumber string) (models.DeliveryRequest, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.GetByTracking(ctx, trackingNumber)
}

func (t *timeoutStore) AssignRider(ctx context.Context, id, riderID string, at time.Time) (models.DeliveryRequest, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.AssignRider(ctx, id, riderID, at)
}

func (t *timeoutStore) AdvanceStatus(ctx context.Context, id string, from, to models.DeliveryStatus, at time.Time) (models.DeliveryRequest, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.AdvanceStatus(ctx, id, from, to, at)
}

func (t *timeoutStore) Terminate(ctx context.Context, id string, from []models.DeliveryStatus, to models.DeliveryStatus, reason string, at time.Time) (models.DeliveryRequest, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.Terminate(ctx, id, from, to, reason, at)
}

func (t *timeoutStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.CreateBooking(ctx, b)
}

func (t *timeoutStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.GetBooking(ctx, id)
}

func (t *timeoutStore) TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (models.Booking, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.TransitionBooking(ctx, id, from, to, reason, at)
}

func (t *timeoutStore) RescheduleBooking(ctx context.Context, id string, scheduledAt, at time.Time) (models.Booking, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.RescheduleBooking(ctx, id, scheduledAt, at)
}

func (t *timeoutStore) InsertDeliveryEarning(ctx context.Context, e *models.EarningsEntry) (bool, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.InsertDeliveryEarning(ctx, e)
}

func (t *timeoutStore) ConfirmDeliveryStats(ctx context.Context, requestID string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.ConfirmDeliveryStats(ctx, requestID)
}

func (t *timeoutStore) DeliveryStatsConfirmed(ctx context.Context, requestID string) (bool, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.DeliveryStatsConfirmed(ctx, requestID)
}

func (t *timeoutStore) InsertEntry(ctx context.Context, e *models.EarningsEntry) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.InsertEntry(ctx, e)
}

func (t *timeoutStore) ListEarnings(ctx context.Context, riderID, month string) ([]models.EarningsEntry, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.ListEarnings(ctx, riderID, month)
}

func (t *timeoutStore) MarkPaid(ctx context.Context, entryIDs []string, at time.Time) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.s.MarkPaid(ctx, entryIDs, at)
}
