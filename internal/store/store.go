package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"delivery-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrPartnerBusy is returned by ClaimPartner when the chosen partner was
// taken by a concurrent claim. It is an expected, recoverable race.
var ErrPartnerBusy = errors.New("delivery partner already busy")

// ErrDuplicateOrder is returned by CreateOrder when another request already
// inserted an order with the same (user_id, idempotency_key). The caller
// resolves the existing order instead.
var ErrDuplicateOrder = errors.New("duplicate order for idempotency key")

// ErrOrderTaken is returned by ClaimPartner when the order itself was
// assigned by a competing claim. The first committed claim wins.
var ErrOrderTaken = errors.New("order already assigned")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetStoreByID retrieves a store by ID
func (s *Store) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stores WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// WriteAudit records the raw request behind a mutation. Callers treat this
// as best-effort: a failure here must never fail the primary operation.
func (s *Store) WriteAudit(ctx context.Context, actor, action, payload string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audits (actor, action, payload) VALUES ($1, $2, $3)",
		actor, action, payload)
	return err
}

// RecordWebhookEvent inserts a processed-event marker. It returns true when
// this call inserted the row, false when the event id was already recorded.
// The insert-first ordering is the optimistic lock against a concurrent
// duplicate delivery.
func (s *Store) RecordWebhookEvent(ctx context.Context, eventID, provider string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO webhook_events (event_id, provider) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, provider)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
