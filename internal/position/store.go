package position

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the position aggregate store. Every consumed event gets its own
// unit of work; nothing outlives the message that opened it.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Reader
}

// Reader is the read-only side used by the query service.
type Reader interface {
	// GetByMonth returns ErrPositionNotFound when the month was never touched.
	GetByMonth(ctx context.Context, year int, month time.Month) (*MonthlyPosition, error)
}

// UnitOfWork collects the mutations of one event and persists them
// atomically on Commit. Rollback after Commit is a no-op, so callers can
// always defer it.
type UnitOfWork interface {
	// MarkProcessed records the event in the dedup ledger. It returns false
	// when the event, or another creation event for the same contract, was
	// already consolidated.
	MarkProcessed(ctx context.Context, eventID, contractID uuid.UUID) (bool, error)

	// GetOrCreate returns the month's aggregate, enrolled for write. A month
	// that does not exist yet is materialised zeroed and becomes durable on
	// Commit.
	GetOrCreate(ctx context.Context, year int, month time.Month) (*MonthlyPosition, error)

	Commit(ctx context.Context) error
	Rollback() error
}
