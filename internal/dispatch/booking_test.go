package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

func testBookingService(t *testing.T) *BookingService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewBookingService(storage.NewMemoryStore(), logger)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func bookingInput(scheduledAt time.Time) CreateBookingInput {
	return CreateBookingInput{
		CustomerID:  "cust1",
		Service:     "laundry_pickup",
		Address:     "88 Lodhi Road, New Delhi",
		Loc:         models.Coord{Lat: 28.5880, Lng: 77.2210},
		ScheduledAt: scheduledAt,
	}
}

func TestBookingLifecycle(t *testing.T) {
	s := testBookingService(t)
	ctx := context.Background()
	b, err := s.Create(ctx, bookingInput(s.now().Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != models.BookingPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
	for _, st := range []models.BookingStatus{models.BookingConfirmed, models.BookingInProgress, models.BookingCompleted} {
		if b, err = s.Advance(ctx, b.ID, st); err != nil {
			t.Fatalf("advance to %s: %v", st, err)
		}
	}
	if b.Status != models.BookingCompleted {
		t.Fatalf("expected completed, got %s", b.Status)
	}
	// completed is terminal
	if _, err := s.Advance(ctx, b.ID, models.BookingInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestBookingAdvanceRejectsSkips(t *testing.T) {
	s := testBookingService(t)
	ctx := context.Background()
	b, _ := s.Create(ctx, bookingInput(s.now().Add(24*time.Hour)))
	if _, err := s.Advance(ctx, b.ID, models.BookingInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected skip to be rejected, got %v", err)
	}
	if _, err := s.Advance(ctx, b.ID, models.BookingCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancellation must go through Cancel, got %v", err)
	}
}

func TestBookingCancelWindow(t *testing.T) {
	s := testBookingService(t)
	ctx := context.Background()

	// slot far enough out: allowed
	b1, _ := s.Create(ctx, bookingInput(s.now().Add(3*time.Hour)))
	if _, err := s.Cancel(ctx, b1.ID, "plans changed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// slot within the 2h lead: rejected
	b2, _ := s.Create(ctx, bookingInput(s.now().Add(90*time.Minute)))
	if _, err := s.Cancel(ctx, b2.ID, "too late"); !errors.Is(err, ErrCancelWindowClosed) {
		t.Fatalf("expected ErrCancelWindowClosed, got %v", err)
	}
}

func TestBookingEditWindow(t *testing.T) {
	s := testBookingService(t)
	ctx := context.Background()

	b1, _ := s.Create(ctx, bookingInput(s.now().Add(6*time.Hour)))
	if _, err := s.Reschedule(ctx, b1.ID, s.now().Add(48*time.Hour)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	got, _ := s.Store.GetBooking(ctx, b1.ID)
	if !got.ScheduledAt.Equal(s.now().Add(48 * time.Hour)) {
		t.Fatalf("slot not moved: %+v", got)
	}

	// inside the 4h edit lead: rejected
	b2, _ := s.Create(ctx, bookingInput(s.now().Add(3*time.Hour)))
	if _, err := s.Reschedule(ctx, b2.ID, s.now().Add(48*time.Hour)); !errors.Is(err, ErrEditWindowClosed) {
		t.Fatalf("expected ErrEditWindowClosed, got %v", err)
	}
}

func TestRescheduleTerminalBooking(t *testing.T) {
	s := testBookingService(t)
	ctx := context.Background()

	// slot inside the edit lead, but the booking is already cancelled;
	// the state check must win over the window check
	b, _ := s.Create(ctx, bookingInput(s.now().Add(3*time.Hour)))
	if _, err := s.Cancel(ctx, b.ID, "gone"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.Reschedule(ctx, b.ID, s.now().Add(48*time.Hour)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestBookingCancelledIsTerminal(t *testing.T) {
	s := testBookingService(t)
	ctx := context.Background()
	b, _ := s.Create(ctx, bookingInput(s.now().Add(24*time.Hour)))
	if _, err := s.Cancel(ctx, b.ID, "gone"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.Advance(ctx, b.ID, models.BookingConfirmed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelled booking accepted a transition: %v", err)
	}
	if _, err := s.Cancel(ctx, b.ID, "again"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
