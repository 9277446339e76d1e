package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hillfoul007/cleancare-dispatch/internal/directory"
	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
	"github.com/Hillfoul007/cleancare-dispatch/internal/observability"
	"github.com/Hillfoul007/cleancare-dispatch/internal/storage"
)

// ErrInvalidAmount rejects negative earnings amounts.
var ErrInvalidAmount = errors.New("amount must be >= 0")

// Ledger posts rider earnings from delivery completion events and keeps
// rider statistics in step. It is the single writer for rider counters.
type Ledger struct {
	Entries   storage.EarningsStore
	Directory directory.Directory
	Logger    *slog.Logger

	now func() time.Time
}

func New(entries storage.EarningsStore, dir directory.Directory, logger *slog.Logger) *Ledger {
	return &Ledger{Entries: entries, Directory: dir, Logger: logger, now: time.Now}
}

// Delivered posts exactly one delivery_fee entry for the event's request
// and bumps the rider's counters. An event counts as settled only once the
// counter update has landed; a replay of an unsettled post re-drives the
// counter update instead of absorbing it, so a transient directory failure
// cannot strand the entry without statistics. Replays of settled events
// are absorbed silently.
func (l *Ledger) Delivered(ctx context.Context, ev models.CompletionEvent) error {
	if ev.RiderEarnings < 0 {
		return ErrInvalidAmount
	}
	e := models.EarningsEntry{
		ID:        entryID(),
		RiderID:   ev.RiderID,
		RequestID: ev.RequestID,
		Amount:    ev.RiderEarnings,
		Type:      models.EarningDeliveryFee,
		EarnedAt:  ev.CompletedAt,
		Month:     ev.CompletedAt.Format("2006-01"),
	}
	inserted, err := l.Entries.InsertDeliveryEarning(ctx, &e)
	if err != nil {
		return fmt.Errorf("post earnings: %w", err)
	}
	if !inserted {
		settled, err := l.Entries.DeliveryStatsConfirmed(ctx, ev.RequestID)
		if err != nil {
			return fmt.Errorf("check settlement: %w", err)
		}
		if settled {
			observability.LedgerDuplicates.Inc()
			l.Logger.Info("duplicate completion event absorbed", "request_id", ev.RequestID, "rider_id", ev.RiderID)
			return nil
		}
	}
	if err := l.Directory.RecordCompletion(ctx, ev.RiderID, ev.RiderEarnings, ev.CompletedAt); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if err := l.Entries.ConfirmDeliveryStats(ctx, ev.RequestID); err != nil {
		return fmt.Errorf("confirm settlement: %w", err)
	}
	l.Logger.Info("earnings posted", "request_id", ev.RequestID, "rider_id", ev.RiderID, "amount", ev.RiderEarnings)
	return nil
}

// Cancelled bumps total and cancelled counters for a request that had a
// rider when it was cancelled or failed. No entry is written.
func (l *Ledger) Cancelled(ctx context.Context, ev models.CancellationEvent) error {
	if err := l.Directory.RecordCancellation(ctx, ev.RiderID); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}
	return nil
}

// PostAdjustment writes an ad hoc entry (bonus, tip, incentive,
// adjustment) unrelated to a specific delivery.
func (l *Ledger) PostAdjustment(ctx context.Context, riderID string, amount float64, typ models.EarningType) (models.EarningsEntry, error) {
	if amount < 0 {
		return models.EarningsEntry{}, ErrInvalidAmount
	}
	now := l.now()
	e := models.EarningsEntry{
		ID:       entryID(),
		RiderID:  riderID,
		Amount:   amount,
		Type:     typ,
		EarnedAt: now,
		Month:    now.Format("2006-01"),
	}
	if err := l.Entries.InsertEntry(ctx, &e); err != nil {
		return models.EarningsEntry{}, err
	}
	l.Logger.Info("adjustment posted", "rider_id", riderID, "type", typ, "amount", amount)
	return e, nil
}

// RiderEarnings lists a rider's entries, optionally restricted to a
// YYYY-MM period.
func (l *Ledger) RiderEarnings(ctx context.Context, riderID, period string) ([]models.EarningsEntry, error) {
	return l.Entries.ListEarnings(ctx, riderID, period)
}

// MarkPaid flags a payout batch as settled; the only mutation permitted
// after an entry is created.
func (l *Ledger) MarkPaid(ctx context.Context, entryIDs []string) error {
	return l.Entries.MarkPaid(ctx, entryIDs, l.now())
}

func entryID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
