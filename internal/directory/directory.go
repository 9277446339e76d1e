package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

var (
	ErrRiderNotFound = errors.New("rider not found")
	// ErrUnavailable wraps transient backend failures; callers may retry.
	ErrUnavailable = errors.New("directory unavailable")
)

// Directory is the minimal interface required by the match engine, the
// dispatch coordinator and the earnings ledger. Snapshots returned by Get
// and ListEligible may be stale by the time the caller acts on them.
type Directory interface {
	Get(ctx context.Context, riderID string) (models.Rider, error)
	SetLocation(ctx context.Context, riderID string, loc models.Coord) error
	SetOnline(ctx context.Context, riderID string, online bool, loc *models.Coord) error
	ListEligible(ctx context.Context) ([]models.Rider, error)

	// SetActiveRequest marks the rider busy with requestID; an empty
	// requestID clears the marker. Busy riders drop out of ListEligible.
	SetActiveRequest(ctx context.Context, riderID, requestID string) error

	// RecordCompletion and RecordCancellation are the single-writer path
	// for rider counters, invoked only by the earnings ledger.
	RecordCompletion(ctx context.Context, riderID string, amount float64, when time.Time) error
	RecordCancellation(ctx context.Context, riderID string) error
}

// Memory is the in-process Directory used in tests and single-node runs.
type Memory struct {
	mu     sync.RWMutex
	riders map[string]*riderState
	now    func() time.Time
}

type riderState struct {
	r         models.Rider
	earnMonth string // month bucket the EarningsThisMonth aggregate belongs to
}

func NewMemory() *Memory {
	return &Memory{riders: make(map[string]*riderState), now: time.Now}
}

// Register adds or replaces a rider record. Counters of an existing record
// are preserved.
func (m *Memory) Register(ctx context.Context, r models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &riderState{r: r}
	if prev, ok := m.riders[r.ID]; ok {
		st.r.EarningsTotal = prev.r.EarningsTotal
		st.r.EarningsThisMonth = prev.r.EarningsThisMonth
		st.r.TotalDeliveries = prev.r.TotalDeliveries
		st.r.CompletedDeliveries = prev.r.CompletedDeliveries
		st.r.CancelledDeliveries = prev.r.CancelledDeliveries
		st.earnMonth = prev.earnMonth
	}
	m.riders[r.ID] = st
	return nil
}

func (m *Memory) Get(ctx context.Context, riderID string) (models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.riders[riderID]
	if !ok {
		return models.Rider{}, ErrRiderNotFound
	}
	return snapshot(st.r), nil
}

func (m *Memory) SetLocation(ctx context.Context, riderID string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.riders[riderID]
	if !ok {
		return ErrRiderNotFound
	}
	// Heartbeats repeat the same position constantly; only bump the
	// location timestamp when the rider actually moved.
	if st.r.Loc == nil || *st.r.Loc != loc {
		st.r.Loc = &models.Coord{Lat: loc.Lat, Lng: loc.Lng}
		st.r.LocUpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) SetOnline(ctx context.Context, riderID string, online bool, loc *models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.riders[riderID]
	if !ok {
		return ErrRiderNotFound
	}
	st.r.Online = online
	if loc != nil {
		if st.r.Loc == nil || *st.r.Loc != *loc {
			st.r.Loc = &models.Coord{Lat: loc.Lat, Lng: loc.Lng}
			st.r.LocUpdatedAt = m.now()
		}
	}
	return nil
}

func (m *Memory) ListEligible(ctx context.Context) ([]models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Rider, 0, len(m.riders))
	for _, st := range m.riders {
		if eligible(st.r) {
			out = append(out, snapshot(st.r))
		}
	}
	// map iteration order is random; keep the snapshot stable for callers
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetActiveRequest(ctx context.Context, riderID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.riders[riderID]
	if !ok {
		return ErrRiderNotFound
	}
	st.r.ActiveRequestID = requestID
	return nil
}

func (m *Memory) RecordCompletion(ctx context.Context, riderID string, amount float64, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.riders[riderID]
	if !ok {
		return ErrRiderNotFound
	}
	bucket := when.Format("2006-01")
	if st.earnMonth != bucket {
		st.earnMonth = bucket
		st.r.EarningsThisMonth = 0
	}
	st.r.TotalDeliveries++
	st.r.CompletedDeliveries++
	st.r.EarningsTotal += amount
	st.r.EarningsThisMonth += amount
	st.r.LastActiveAt = when
	return nil
}

func (m *Memory) RecordCancellation(ctx context.Context, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.riders[riderID]
	if !ok {
		return ErrRiderNotFound
	}
	st.r.TotalDeliveries++
	st.r.CancelledDeliveries++
	return nil
}

func eligible(r models.Rider) bool {
	return r.Online && r.Status == models.AccountActive && r.Loc != nil && r.ActiveRequestID == ""
}

func snapshot(r models.Rider) models.Rider {
	if r.Loc != nil {
		loc := *r.Loc
		r.Loc = &loc
	}
	return r
}
