// Package repository contains the PostgreSQL data access layer.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/adekunle-oj/wallet-core/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownUser is returned when a credit targets a user without a wallet row.
var (
	ErrUnknownUser = errors.New("no wallet for user")
	// ErrEntryNotFound is returned when no ledger entry matches the reference.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrIntentNotFound is returned when no payment intent matches the reference.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrWalletNotFound is returned when a user has no wallet row.
	ErrWalletNotFound = errors.New("wallet not found")
)

// PostgresRepository provides access to the wallet and ledger storage.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the repository and brings the schema up to
// date through the embedded migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry reruns fn on serialization failures and deadlocks. Anything else,
// including context cancellation, propagates immediately.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InsertLedgerEntryAndCreditWallet applies one payment event atomically: it
// inserts the ledger entry and increments the wallet balance in a single
// transaction. The unique constraint on reference is the authoritative
// idempotency mechanism; when it fires the method reports applied=false with
// no error and no balance change. An event for a user without a wallet row
// fails with ErrUnknownUser.
func (r *PostgresRepository) InsertLedgerEntryAndCreditWallet(ctx context.Context, entry model.LedgerEntry) (bool, error) {
	applied := false

	err := r.withRetry(ctx, func() error {
		a, err := r.insertAndCredit(ctx, entry)
		applied = a
		return err
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

func (r *PostgresRepository) insertAndCredit(ctx context.Context, entry model.LedgerEntry) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (user_id, type, amount_minor, status, reference, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.UserID, string(entry.Type), entry.AmountMinor, string(entry.Status), entry.Reference, entry.Metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				// A concurrent delivery won the race. Nothing left to do.
				return false, nil
			case pgerrcode.ForeignKeyViolation:
				return false, fmt.Errorf("%w: %s", ErrUnknownUser, entry.UserID)
			}
		}
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	// Atomic read-modify-write on the balance, same transaction as the insert.
	cmdTag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance_minor = balance_minor + $2, updated_at = now() WHERE user_id = $1`,
		entry.UserID, entry.AmountMinor,
	)
	if err != nil {
		return false, fmt.Errorf("credit wallet: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, fmt.Errorf("%w: %s", ErrUnknownUser, entry.UserID)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

// LookupLedgerEntryByReference returns the ledger entry with the given
// reference, or ErrEntryNotFound.
func (r *PostgresRepository) LookupLedgerEntryByReference(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, type, amount_minor, status, reference, metadata, created_at
		 FROM ledger_entries WHERE reference = $1`,
		reference,
	)

	var e model.LedgerEntry
	var entryType, status string
	err := row.Scan(&e.ID, &e.UserID, &entryType, &e.AmountMinor, &status, &e.Reference, &e.Metadata, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("lookup ledger entry: %w", err)
	}

	e.Type = model.EntryType(entryType)
	e.Status = model.EntryStatus(status)

	return &e, nil
}

// UpdateLedgerEntryStatus moves a pending ledger entry to a terminal status.
// Entries are never deleted and only pending entries may transition, so a
// redelivered failure notification is a no-op. Reports whether a row changed.
func (r *PostgresRepository) UpdateLedgerEntryStatus(ctx context.Context, reference string, status model.EntryStatus) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE ledger_entries SET status = $2 WHERE reference = $1 AND status = $3`,
		reference, string(status), string(model.EntryStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("update ledger entry status: %w", err)
	}

	return cmdTag.RowsAffected() == 1, nil
}

// LookupIntentUser resolves the wallet owner from a payment intent minted at
// initiation time.
func (r *PostgresRepository) LookupIntentUser(ctx context.Context, reference string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM payment_intents WHERE reference = $1`,
		reference,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrIntentNotFound
		}
		return "", fmt.Errorf("lookup payment intent: %w", err)
	}

	return userID, nil
}

// SaveOrphanEvent retains a webhook that could not be applied, for manual
// reconciliation.
func (r *PostgresRepository) SaveOrphanEvent(ctx context.Context, ev model.OrphanEvent) (string, error) {
	id := ev.ID
	if id == "" {
		id = ulid.Make().String()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO orphan_events (id, provider, reference, reason, payload) VALUES ($1, $2, $3, $4, $5)`,
		id, string(ev.Provider), ev.Reference, ev.Reason, ev.Payload,
	)
	if err != nil {
		return "", fmt.Errorf("save orphan event: %w", err)
	}

	return id, nil
}

// ListOrphanEvents returns retained events, newest first.
func (r *PostgresRepository) ListOrphanEvents(ctx context.Context, limit int) ([]model.OrphanEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, provider, reference, reason, payload, received_at
		 FROM orphan_events
		 ORDER BY received_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orphan events: %w", err)
	}
	defer rows.Close()

	var res []model.OrphanEvent
	for rows.Next() {
		var ev model.OrphanEvent
		var provider string
		if err := rows.Scan(&ev.ID, &provider, &ev.Reference, &ev.Reason, &ev.Payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan orphan event: %w", err)
		}
		ev.Provider = model.Provider(provider)
		res = append(res, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetWallet returns the wallet row for a user, or ErrWalletNotFound.
func (r *PostgresRepository) GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, balance_minor, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	)

	var w model.WalletAccount
	err := row.Scan(&w.UserID, &w.BalanceMinor, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &w, nil
}

// GetLedgerEntriesByUser returns a user's ledger history, newest first.
func (r *PostgresRepository) GetLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount_minor, status, reference, metadata, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var entryType, status string
		if err := rows.Scan(&e.ID, &e.UserID, &entryType, &e.AmountMinor, &status, &e.Reference, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = model.EntryType(entryType)
		e.Status = model.EntryStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
