package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict means a conditional update found the record in a
	// different state than expected (a concurrent writer got there first).
	ErrStatusConflict    = errors.New("status conflict")
	ErrDuplicateTracking = errors.New("duplicate tracking number")
)

// RequestStore persists delivery requests. Every state change is a
// conditional update keyed on the expected prior status so concurrent
// writers cannot silently overwrite each other.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.DeliveryRequest) error
	GetRequest(ctx context.Context, id string) (models.DeliveryRequest, error)
	GetByTracking(ctx context.Context, trackingNumber string) (models.DeliveryRequest, error)

	// AssignRider performs the pending->assigned compare-and-set.
	AssignRider(ctx context.Context, id, riderID string, at time.Time) (models.DeliveryRequest, error)

	// AdvanceStatus moves the request from exactly `from` to `to`,
	// stamping actual pickup/delivery times as appropriate.
	AdvanceStatus(ctx context.Context, id string, from, to models.DeliveryStatus, at time.Time) (models.DeliveryRequest, error)

	// Terminate moves the request into a terminal status if its current
	// status is one of `from`, recording the reason.
	Terminate(ctx context.Context, id string, from []models.DeliveryStatus, to models.DeliveryStatus, reason string, at time.Time) (models.DeliveryRequest, error)
}

// BookingStore persists customer service bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (models.Booking, error)
	TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (models.Booking, error)
	RescheduleBooking(ctx context.Context, id string, scheduledAt, at time.Time) (models.Booking, error)
}

// EarningsStore persists ledger entries. InsertDeliveryEarning is the
// idempotency point: at most one entry may exist per delivery request. The
// stats flag marks that the rider counter update for the entry has landed,
// so a replay can tell a settled post from one that died halfway.
type EarningsStore interface {
	// InsertDeliveryEarning returns false without writing when an entry
	// for e.RequestID already exists.
	InsertDeliveryEarning(ctx context.Context, e *models.EarningsEntry) (bool, error)
	// ConfirmDeliveryStats records that the rider statistics update for
	// the request's entry has been applied.
	ConfirmDeliveryStats(ctx context.Context, requestID string) error
	DeliveryStatsConfirmed(ctx context.Context, requestID string) (bool, error)
	InsertEntry(ctx context.Context, e *models.EarningsEntry) error
	ListEarnings(ctx context.Context, riderID, month string) ([]models.EarningsEntry, error)
	MarkPaid(ctx context.Context, entryIDs []string, at time.Time) error
}

// MemoryStore is the in-process implementation backing tests and
// single-node deployments. All conditional updates run under one lock,
// which makes each of them atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*models.DeliveryRequest
	tracking  map[string]string // tracking number -> request ID
	bookings  map[string]*models.Booking
	earnings  map[string]*models.EarningsEntry
	byReq     map[string]string // request ID -> earnings entry ID
	statsDone map[string]bool   // request IDs whose rider stats update landed
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.DeliveryRequest),
		tracking:  make(map[string]string),
		bookings:  make(map[string]*models.Booking),
		earnings:  make(map[string]*models.EarningsEntry),
		byReq:     make(map[string]string),
		statsDone: make(map[string]bool),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.DeliveryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.tracking[r.TrackingNumber]; taken {
		return ErrDuplicateTracking
	}
	cp := *r
	m.requests[r.ID] = &cp
	m.tracking[r.TrackingNumber] = r.ID
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (models.DeliveryRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) GetByTracking(ctx context.Context, trackingNumber string) (models.DeliveryRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tracking[trackingNumber]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	return *m.requests[id], nil
}

func (m *MemoryStore) AssignRider(ctx context.Context, id, riderID string, at time.Time) (models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	if r.Status != models.StatusPending {
		return models.DeliveryRequest{}, ErrStatusConflict
	}
	r.RiderID = riderID
	r.Status = models.StatusAssigned
	r.UpdatedAt = at
	return *r, nil
}

func (m *MemoryStore) AdvanceStatus(ctx context.Context, id string, from, to models.DeliveryStatus, at time.Time) (models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	if r.Status != from {
		return models.DeliveryRequest{}, ErrStatusConflict
	}
	r.Status = to
	r.UpdatedAt = at
	switch to {
	case models.StatusPickedUp:
		t := at
		r.ActualPickupAt = &t
	case models.StatusDelivered:
		t := at
		r.ActualDeliveryAt = &t
	}
	return *r, nil
}

func (m *MemoryStore) Terminate(ctx context.Context, id string, from []models.DeliveryStatus, to models.DeliveryStatus, reason string, at time.Time) (models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if r.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.DeliveryRequest{}, ErrStatusConflict
	}
	r.Status = to
	r.CancelReason = reason
	r.UpdatedAt = at
	return *r, nil
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, ErrNotFound
	}
	return *b, nil
}

func (m *MemoryStore) TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus, reason string, at time.Time) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, ErrNotFound
	}
	if b.Status != from {
		return models.Booking{}, ErrStatusConflict
	}
	b.Status = to
	b.CancelReason = reason
	b.UpdatedAt = at
	return *b, nil
}

func (m *MemoryStore) RescheduleBooking(ctx context.Context, id string, scheduledAt, at time.Time) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, ErrNotFound
	}
	if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
		return models.Booking{}, ErrStatusConflict
	}
	b.ScheduledAt = scheduledAt
	b.UpdatedAt = at
	return *b, nil
}

func (m *MemoryStore) InsertDeliveryEarning(ctx context.Context, e *models.EarningsEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, posted := m.byReq[e.RequestID]; posted {
		return false, nil
	}
	cp := *e
	m.earnings[e.ID] = &cp
	m.byReq[e.RequestID] = e.ID
	return true, nil
}

func (m *MemoryStore) ConfirmDeliveryStats(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byReq[requestID]; !ok {
		return ErrNotFound
	}
	m.statsDone[requestID] = true
	return nil
}

func (m *MemoryStore) DeliveryStatsConfirmed(ctx context.Context, requestID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsDone[requestID], nil
}

func (m *MemoryStore) InsertEntry(ctx context.Context, e *models.EarningsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.earnings[e.ID] = &cp
	return nil
}

func (m *MemoryStore) ListEarnings(ctx context.Context, riderID, month string) ([]models.EarningsEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EarningsEntry, 0)
	for _, e := range m.earnings {
		if e.RiderID != riderID {
			continue
		}
		if month != "" && e.Month != month {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, entryIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range entryIDs {
		e, ok := m.earnings[id]
		if !ok {
			return ErrNotFound
		}
		e.Paid = true
		t := at
		e.PaidAt = &t
	}
	return nil
}
