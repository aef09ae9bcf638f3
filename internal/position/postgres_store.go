package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"EnergyLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// uniqueViolation is the SQLSTATE Postgres reports when an insert hits
// monthly_positions_year_month_key.
const uniqueViolation = "23505"

// PostgresStore keeps the aggregates in positions.monthly_positions.
// Each unit of work is one transaction: rows are locked with FOR UPDATE as
// they are first touched and written back on commit, so concurrent events
// incrementing the same month serialise on the row instead of losing updates.
type PostgresStore struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPostgresStore(db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, metrics: metrics, logger: logger}
}

func (s *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgUnit{
		store:   s,
		tx:      tx,
		touched: make(map[Key]*MonthlyPosition),
	}, nil
}

func (s *PostgresStore) GetByMonth(ctx context.Context, year int, month time.Month) (*MonthlyPosition, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, `
		SELECT id, year, month, total_volume_purchased, total_volume_sold, updated_at
		FROM positions.monthly_positions
		WHERE year = $1 AND month = $2
	`, year, int(month)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %04d-%02d: %w", year, int(month), err)
	}
	return p, nil
}

type pgUnit struct {
	store   *PostgresStore
	tx      *sql.Tx
	touched map[Key]*MonthlyPosition
	order   []Key
}

func (u *pgUnit) MarkProcessed(ctx context.Context, eventID, contractID uuid.UUID) (bool, error) {
	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO positions.processed_events (event_id, contract_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, eventID, contractID)
	if err != nil {
		return false, fmt.Errorf("record processed event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (u *pgUnit) GetOrCreate(ctx context.Context, year int, month time.Month) (*MonthlyPosition, error) {
	key := Key{Year: year, Month: month}
	if p, ok := u.touched[key]; ok {
		return p, nil
	}

	p, err := u.selectForUpdate(ctx, key)
	if err == nil {
		u.track(key, p)
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock position %s: %w", key, err)
	}

	p, err = u.insert(ctx, key)
	if err != nil {
		return nil, err
	}
	u.track(key, p)
	return p, nil
}

// insert materialises the month under a savepoint. Losing the race to a
// concurrent creator surfaces as a unique violation; the savepoint keeps the
// transaction usable and the now-existing row is locked instead.
func (u *pgUnit) insert(ctx context.Context, key Key) (*MonthlyPosition, error) {
	if _, err := u.tx.ExecContext(ctx, `SAVEPOINT position_create`); err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}

	p := NewMonthlyPosition(key.Year, key.Month)
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO positions.monthly_positions
			(id, year, month, total_volume_purchased, total_volume_sold)
		VALUES ($1, $2, $3, 0, 0)
	`, p.ID, key.Year, int(key.Month))
	if err == nil {
		if _, err := u.tx.ExecContext(ctx, `RELEASE SAVEPOINT position_create`); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		return p, nil
	}

	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("insert position %s: %w", key, err)
	}

	if _, err := u.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT position_create`); err != nil {
		return nil, fmt.Errorf("rollback to savepoint: %w", err)
	}
	if u.store.metrics != nil {
		u.store.metrics.PositionCreateConflicts.Inc()
	}
	u.store.logger.Debug().Str("month", key.String()).Msg("position created concurrently, retrying as update")

	existing, err := u.selectForUpdate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock position %s after conflict: %w", key, err)
	}
	return existing, nil
}

func (u *pgUnit) selectForUpdate(ctx context.Context, key Key) (*MonthlyPosition, error) {
	return scanPosition(u.tx.QueryRowContext(ctx, `
		SELECT id, year, month, total_volume_purchased, total_volume_sold, updated_at
		FROM positions.monthly_positions
		WHERE year = $1 AND month = $2
		FOR UPDATE
	`, key.Year, int(key.Month)))
}

func (u *pgUnit) track(key Key, p *MonthlyPosition) {
	u.touched[key] = p
	u.order = append(u.order, key)
}

func (u *pgUnit) Commit(ctx context.Context) error {
	for _, key := range u.order {
		p := u.touched[key]
		if _, err := u.tx.ExecContext(ctx, `
			UPDATE positions.monthly_positions
			SET total_volume_purchased = $1, total_volume_sold = $2, updated_at = NOW()
			WHERE id = $3
		`, p.TotalVolumePurchased, p.TotalVolumeSold, p.ID); err != nil {
			return fmt.Errorf("update position %s: %w", key, err)
		}
	}

	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (u *pgUnit) Rollback() error {
	err := u.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*MonthlyPosition, error) {
	var (
		p         MonthlyPosition
		month     int
		updatedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Year, &month, &p.TotalVolumePurchased, &p.TotalVolumeSold, &updatedAt); err != nil {
		return nil, err
	}
	p.Month = time.Month(month)
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time.UTC()
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
