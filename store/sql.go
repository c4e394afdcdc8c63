package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	schema      []string
}

var sqliteDialect = dialect{
	driver:      "sqlite3",
	placeholder: sq.Question,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL DEFAULT '',
			auth TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);`,
		`CREATE TABLE IF NOT EXISTS queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subscription_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);`,
		`CREATE TABLE IF NOT EXISTS acks (
			notification_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (notification_id, user_id, event)
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		);`,
	},
}

var postgresDialect = dialect{
	driver:      "postgres",
	placeholder: sq.Dollar,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL DEFAULT '',
			auth TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);`,
		`CREATE TABLE IF NOT EXISTS queue (
			id BIGSERIAL PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			payload BYTEA NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);`,
		`CREATE TABLE IF NOT EXISTS acks (
			notification_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (notification_id, user_id, event)
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0
		);`,
	},
}

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLiteStore opens (or creates) a SQLite database. ":memory:" is
// supported; the pool is pinned to one connection so every query sees the
// same database.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect)
}

// NewPostgresStore connects to PostgreSQL using a lib/pq DSN.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSQLStore(db, postgresDialect)
}

// Open picks the store implementation by driver name.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "sqlite", "":
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(d.placeholder),
	}
	if err := s.initSchema(d.schema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema(queries []string) error {
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

// Subscriptions

// SaveSubscription inserts rec, or moves an existing endpoint to rec's user
// and keys, and returns the stored record. The original id and created_at are
// kept on update. When the endpoint changes owner, pending queue items of the
// previous owner are dropped in the same transaction.
func (s *SQLStore) SaveSubscription(ctx context.Context, rec SubscriptionRecord) (SubscriptionRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	defer tx.Rollback()

	previous := s.sb.Select("id").From("subscriptions").
		Where(sq.Eq{"endpoint": rec.Endpoint}).
		Where(sq.NotEq{"user_id": rec.UserID})
	drop, args, err := s.sb.Update("queue").
		Set("status", StatusDropped).
		Where(sq.Eq{"status": StatusPending}).
		Where(sq.Expr("subscription_id IN (?)", previous)).
		ToSql()
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, drop, args...); err != nil {
		return SubscriptionRecord{}, fmt.Errorf("failed to drop queued deliveries: %w", err)
	}

	upsert, args, err := s.sb.Insert("subscriptions").
		Columns("id", "user_id", "provider", "endpoint", "p256dh", "auth", "created_at").
		Values(rec.ID, rec.UserID, rec.Provider, rec.Endpoint, rec.P256dh, rec.Auth, rec.CreatedAt).
		Suffix(`ON CONFLICT (endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			provider = excluded.provider,
			p256dh = excluded.p256dh,
			auth = excluded.auth`).
		ToSql()
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
		return SubscriptionRecord{}, fmt.Errorf("failed to save subscription: %w", err)
	}

	query, args, err := s.sb.
		Select("id", "user_id", "provider", "endpoint", "p256dh", "auth", "created_at").
		From("subscriptions").
		Where(sq.Eq{"endpoint": rec.Endpoint}).
		ToSql()
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("build query: %w", err)
	}
	var stored SubscriptionRecord
	err = tx.QueryRowContext(ctx, query, args...).
		Scan(&stored.ID, &stored.UserID, &stored.Provider, &stored.Endpoint, &stored.P256dh, &stored.Auth, &stored.CreatedAt)
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("failed to read saved subscription: %w", err)
	}

	return stored, tx.Commit()
}

func (s *SQLStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	n, err := s.deleteSubscriptions(ctx, sq.Eq{"user_id": userID, "endpoint": endpoint})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.deleteSubscriptions(ctx, sq.Eq{"endpoint": endpoint})
	return err
}

func (s *SQLStore) DeleteSubscriptionsByUser(ctx context.Context, userID string) (int64, error) {
	return s.deleteSubscriptions(ctx, sq.Eq{"user_id": userID})
}

// deleteSubscriptions removes matching subscriptions and drops their pending
// queue items in the same transaction.
func (s *SQLStore) deleteSubscriptions(ctx context.Context, where sq.Eq) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ids := s.sb.Select("id").From("subscriptions").Where(where)
	drop, args, err := s.sb.Update("queue").
		Set("status", StatusDropped).
		Where(sq.Eq{"status": StatusPending}).
		Where(sq.Expr("subscription_id IN (?)", ids)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, drop, args...); err != nil {
		return 0, fmt.Errorf("failed to drop queued deliveries: %w", err)
	}

	del, args, err := s.sb.Delete("subscriptions").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, del, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *SQLStore) GetSubscriptionsByUser(ctx context.Context, userID string) ([]SubscriptionRecord, error) {
	query, args, err := s.sb.
		Select("id", "user_id", "provider", "endpoint", "p256dh", "auth", "created_at").
		From("subscriptions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SubscriptionRecord
	for rows.Next() {
		var r SubscriptionRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Provider, &r.Endpoint, &r.P256dh, &r.Auth, &r.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLStore) GetSubscriptionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM subscriptions`).Scan(&count)
	return count, err
}

// Queue

// EnqueueDelivery stores a payload for retry. The failed first attempt counts,
// so new items start with attempts = 1.
func (s *SQLStore) EnqueueDelivery(ctx context.Context, subscriptionID string, payload []byte) (int64, error) {
	query, args, err := s.sb.Insert("queue").
		Columns("subscription_id", "payload", "attempts", "status", "created_at").
		Values(subscriptionID, payload, 1, StatusPending, time.Now().UTC()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return id, nil
}

func (s *SQLStore) GetPendingDeliveries(ctx context.Context, limit int) ([]QueueItem, error) {
	b := s.sb.
		Select("q.id", "q.subscription_id", "s.user_id", "s.provider", "s.endpoint", "s.p256dh", "s.auth",
			"q.payload", "q.attempts", "q.status", "q.created_at").
		From("queue q").
		Join("subscriptions s ON q.subscription_id = s.id").
		Where(sq.Eq{"q.status": StatusPending}).
		OrderBy("q.id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(&item.ID, &item.SubscriptionID, &item.UserID, &item.Provider, &item.Endpoint,
			&item.P256dh, &item.Auth, &item.Payload, &item.Attempts, &item.Status, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateDelivery records one more delivery attempt and its resulting status.
func (s *SQLStore) UpdateDelivery(ctx context.Context, queueID int64, status string) error {
	q := s.sb.Update("queue").
		Set("status", status).
		Set("attempts", sq.Expr("attempts + 1")).
		Where(sq.Eq{"id": queueID})
	res, err := s.exec(ctx, q)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Acknowledgements

// SaveAck is idempotent: the worker may resend an ack whose first POST
// succeeded but was not removed from its cache.
func (s *SQLStore) SaveAck(ctx context.Context, ack Ack) error {
	if ack.CreatedAt.IsZero() {
		ack.CreatedAt = time.Now().UTC()
	}
	q := s.sb.Insert("acks").
		Columns("notification_id", "user_id", "event", "created_at").
		Values(ack.NotificationID, ack.UserID, ack.Event, ack.CreatedAt).
		Suffix("ON CONFLICT DO NOTHING")
	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("failed to save ack: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAckCount(ctx context.Context, event string) (int64, error) {
	query, args, err := s.sb.Select("count(*)").From("acks").Where(sq.Eq{"event": event}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var count int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Users

func (s *SQLStore) CreateUser(ctx context.Context, username, passwordHash, role string) error {
	q := s.sb.Insert("users").
		Columns("username", "password_hash", "role").
		Values(username, passwordHash, role)
	_, err := s.exec(ctx, q)
	return err
}

func (s *SQLStore) GetUser(ctx context.Context, username string) (*User, error) {
	query, args, err := s.sb.Select("username", "password_hash", "role").
		From("users").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var u User
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&u.Username, &u.PasswordHash, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password_hash, role FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Role); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.exec(ctx, s.sb.Delete("users").Where(sq.Eq{"username": username}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) HasAdminUser(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE role = 'admin')`).Scan(&exists)
	return exists, err
}

func (s *SQLStore) UpdateUserRole(ctx context.Context, username, role string) error {
	_, err := s.exec(ctx, s.sb.Update("users").Set("role", role).Where(sq.Eq{"username": username}))
	return err
}

// Stats

const counterSent = "notifications_sent"

func (s *SQLStore) RecordSent(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	q := s.sb.Insert("counters").
		Columns("name", "value").
		Values(counterSent, n).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = counters.value + excluded.value")
	_, err := s.exec(ctx, q)
	return err
}

func (s *SQLStore) GetTotalNotificationsSent(ctx context.Context) (int64, error) {
	query, args, err := s.sb.Select("value").From("counters").Where(sq.Eq{"name": counterSent}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var count int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
