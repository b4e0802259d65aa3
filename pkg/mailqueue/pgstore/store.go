// Package pgstore keeps the mail queue in a PostgreSQL table.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrTableNotFound is returned by CheckTable when the queue table is missing.
var ErrTableNotFound = errors.New("queue table not found")

const uniqueViolation = "23505"

type Store struct {
	db      *sqlx.DB
	table   string
	ident   string
	timeout time.Duration
}

var (
	_ mailqueue.Repository = (*Store)(nil)
	_ mailqueue.Claimer    = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithQueryTimeout bounds every statement; zero disables it.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	s.ident = pgx.Identifier{s.table}.Sanitize()
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CheckTable verifies that the queue table exists.
func (s *Store) CheckTable(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT to_regclass($1) IS NOT NULL`, s.table); err != nil {
		return fmt.Errorf("failed to check queue table: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, s.table)
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, record mailqueue.QueueRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.ident, columns)
	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.Payload, record.QueuedTime.UTC(), record.SentTime,
		record.Attempts, record.LastAttemptTime, record.LockedUntil,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("failed to enqueue %s: %w", record.ID, mailqueue.ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to insert queue record: %w", err)
	}
	return nil
}

func (s *Store) SelectEligible(ctx context.Context, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	return s.list(ctx, mailqueue.StatePending, maxAttempts, limit)
}

// ClaimEligible leases records in one statement. Rows locked by a
// concurrent claim are skipped rather than waited for.
func (s *Store) ClaimEligible(ctx context.Context, maxAttempts int, limit int, now time.Time, leaseUntil time.Time) ([]mailqueue.QueueRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %[1]s SET locked_until = $4
WHERE id IN (
    SELECT id FROM %[1]s
    WHERE sent_time IS NULL AND attempts < $1 AND (locked_until IS NULL OR locked_until <= $2)
    ORDER BY queued_time, id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING %[2]s`, s.ident, columns)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, maxAttempts, now.UTC(), limit, leaseUntil.UTC()); err != nil {
		return nil, fmt.Errorf("failed to claim queue records: %w", err)
	}

	// RETURNING does not keep the subquery order.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].QueuedTime.Equal(rows[j].QueuedTime) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].QueuedTime.Before(rows[j].QueuedTime)
	})
	return toRecords(rows), nil
}

func (s *Store) UpdatePartial(ctx context.Context, id string, update mailqueue.Update) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if update.SentTime != nil {
		query := fmt.Sprintf(`UPDATE %s SET attempts = $2, last_attempt_time = $3, sent_time = $4, locked_until = NULL WHERE id = $1`, s.ident)
		res, err = s.db.ExecContext(ctx, query, id, update.Attempts, update.LastAttemptTime.UTC(), update.SentTime.UTC())
	} else {
		query := fmt.Sprintf(`UPDATE %s SET attempts = $2, last_attempt_time = $3, locked_until = NULL WHERE id = $1`, s.ident)
		res, err = s.db.ExecContext(ctx, query, id, update.Attempts, update.LastAttemptTime.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to update queue record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update queue record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update %s: %w", id, mailqueue.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (mailqueue.QueueRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r row
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.ident)
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mailqueue.QueueRecord{}, mailqueue.ErrRecordNotFound
		}
		return mailqueue.QueueRecord{}, fmt.Errorf("failed to get queue record: %w", err)
	}
	return r.toRecord(), nil
}

func (s *Store) ListByState(ctx context.Context, state mailqueue.State, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	return s.list(ctx, state, maxAttempts, limit)
}

func (s *Store) Counts(ctx context.Context, maxAttempts int) (mailqueue.StateCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT
    COUNT(*) FILTER (WHERE sent_time IS NULL AND attempts < $1) AS pending,
    COUNT(*) FILTER (WHERE sent_time IS NOT NULL) AS sent,
    COUNT(*) FILTER (WHERE sent_time IS NULL AND attempts >= $1) AS exhausted
FROM %s`, s.ident)

	var counts struct {
		Pending   int64 `db:"pending"`
		Sent      int64 `db:"sent"`
		Exhausted int64 `db:"exhausted"`
	}
	if err := s.db.GetContext(ctx, &counts, query, maxAttempts); err != nil {
		return mailqueue.StateCounts{}, fmt.Errorf("failed to count queue records: %w", err)
	}
	return mailqueue.StateCounts{Pending: counts.Pending, Sent: counts.Sent, Exhausted: counts.Exhausted}, nil
}

func (s *Store) list(ctx context.Context, state mailqueue.State, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		where string
		args  []any
	)
	switch state {
	case mailqueue.StateSent:
		where = "sent_time IS NOT NULL"
	case mailqueue.StateExhausted:
		where = "sent_time IS NULL AND attempts >= $1"
		args = append(args, maxAttempts)
	default:
		where = "sent_time IS NULL AND attempts < $1"
		args = append(args, maxAttempts)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY queued_time, id`, columns, s.ident, where)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select queue records: %w", err)
	}
	return toRecords(rows), nil
}
