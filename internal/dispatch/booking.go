package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/geomath"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

var (
	ErrCancelWindowClosed = errors.New("cancellation window closed")
	ErrEditWindowClosed   = errors.New("edit window closed")
)

// BookingService runs the simpler customer-facing booking lifecycle:
// pending -> confirmed -> in_progress -> completed | cancelled.
// Cancellation and rescheduling are time-gated against the scheduled slot.
type BookingService struct {
	Store  storage.BookingStore
	Logger *slog.Logger

	CancelLead time.Duration // minimum lead time to cancel, default 2h
	EditLead   time.Duration // minimum lead time to reschedule, default 4h

	now func() time.Time
}

func NewBookingService(store storage.BookingStore, logger *slog.Logger) *BookingService {
	return &BookingService{
		Store:      store,
		Logger:     logger,
		CancelLead: 2 * time.Hour,
		EditLead:   4 * time.Hour,
		now:        time.Now,
	}
}

type CreateBookingInput struct {
	CustomerID  string       `json:"customer_id"`
	Service     string       `json:"service"`
	Address     string       `json:"address"`
	Loc         models.Coord `json:"loc"`
	ScheduledAt time.Time    `json:"scheduled_at"`
}

func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (models.Booking, error) {
	if in.CustomerID == "" {
		return models.Booking{}, &ValidationError{Field: "customer_id", Reason: "required"}
	}
	if in.Service == "" {
		return models.Booking{}, &ValidationError{Field: "service", Reason: "required"}
	}
	if in.Address == "" {
		return models.Booking{}, &ValidationError{Field: "address", Reason: "required"}
	}
	if !geomath.Valid(in.Loc) {
		return models.Booking{}, &ValidationError{Field: "loc", Reason: "out of range"}
	}
	now := s.now()
	if !in.ScheduledAt.After(now) {
		return models.Booking{}, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
	}
	b := models.Booking{
		ID:          newID(),
		CustomerID:  in.CustomerID,
		Service:     in.Service,
		Address:     in.Address,
		Loc:         in.Loc,
		ScheduledAt: in.ScheduledAt,
		Status:      models.BookingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.CreateBooking(ctx, &b); err != nil {
		return models.Booking{}, err
	}
	s.Logger.Info("booking created", "booking_id", b.ID, "service", b.Service, "scheduled_at", b.ScheduledAt)
	return b, nil
}

// bookingAdvanceFrom mirrors the coordinator's transition table for the
// booking machine.
var bookingAdvanceFrom = map[models.BookingStatus]models.BookingStatus{
	models.BookingConfirmed:  models.BookingPending,
	models.BookingInProgress: models.BookingConfirmed,
	models.BookingCompleted:  models.BookingInProgress,
}

func (s *BookingService) Advance(ctx context.Context, bookingID string, target models.BookingStatus) (models.Booking, error) {
	from, ok := bookingAdvanceFrom[target]
	if !ok {
		return models.Booking{}, ErrInvalidTransition
	}
	b, err := s.Store.TransitionBooking(ctx, bookingID, from, target, "", s.now())
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return models.Booking{}, ErrInvalidTransition
		}
		return models.Booking{}, err
	}
	return b, nil
}

// Cancel is allowed from pending or confirmed, and only while the
// scheduled slot is still at least CancelLead away.
func (s *BookingService) Cancel(ctx context.Context, bookingID, reason string) (models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
		return models.Booking{}, ErrInvalidState
	}
	if b.ScheduledAt.Sub(s.now()) < s.CancelLead {
		return models.Booking{}, ErrCancelWindowClosed
	}
	b, err = s.Store.TransitionBooking(ctx, bookingID, b.Status, models.BookingCancelled, reason, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return models.Booking{}, ErrInvalidState
		}
		return models.Booking{}, err
	}
	s.Logger.Info("booking cancelled", "booking_id", bookingID, "reason", reason)
	return b, nil
}

// Reschedule moves the slot. Like Cancel it is allowed from pending or
// confirmed, and gated on EditLead before the current slot.
func (s *BookingService) Reschedule(ctx context.Context, bookingID string, newTime time.Time) (models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
		return models.Booking{}, ErrInvalidState
	}
	now := s.now()
	if b.ScheduledAt.Sub(now) < s.EditLead {
		return models.Booking{}, ErrEditWindowClosed
	}
	if !newTime.After(now) {
		return models.Booking{}, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
	}
	b, err = s.Store.RescheduleBooking(ctx, bookingID, newTime, now)
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return models.Booking{}, ErrInvalidState
		}
		return models.Booking{}, err
	}
	return b, nil
}
