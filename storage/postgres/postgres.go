// Package postgres provides a PostgreSQL implementation of the gorole.Storage interface.
// Role writes are a single INSERT ... ON CONFLICT statement, so concurrent webhooks
// for the same user never lose updates and no application lock is needed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mihaimyh/gorole/pkg/gorole"
	"github.com/mihaimyh/gorole/storage/postgres/migrations"
)

// Storage implements gorole.Storage and gorole.AuditLogger using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

var (
	_ gorole.Storage     = (*Storage)(nil)
	_ gorole.AuditLogger = (*Storage)(nil)
)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// RunMigrations applies the embedded schema on New.
	RunMigrations bool

	// Audit log retention. Zero AuditRetention keeps entries forever.
	CleanupEnabled  bool
	CleanupInterval time.Duration
	AuditRetention  time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		RunMigrations:   true,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
		AuditRetention:  90 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.RunMigrations {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	if config.CleanupEnabled && config.AuditRetention > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Migrate applies the embedded goose migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

const selectRole = `SELECT user_id, role_id, assigned_at, event_at, source
	FROM role_assignments WHERE user_id = $1`

// GetRole implements gorole.Storage
func (s *Storage) GetRole(ctx context.Context, userID string) (*gorole.RoleAssignment, error) {
	return scanAssignment(s.pool.QueryRow(ctx, selectRole, userID))
}

func scanAssignment(row pgx.Row) (*gorole.RoleAssignment, error) {
	var ra gorole.RoleAssignment
	var eventAt *time.Time

	err := row.Scan(&ra.UserID, &ra.RoleID, &ra.AssignedAt, &eventAt, &ra.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gorole.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if eventAt != nil {
		ra.EventAt = eventAt.UTC()
	}
	ra.AssignedAt = ra.AssignedAt.UTC()
	return &ra, nil
}

// UpsertRole implements gorole.Storage. The transaction takes a per-user
// advisory lock, so the row it reads is the row it replaces, including when two
// writers race to insert the first row. With RejectStale set the WHERE clause
// keeps a row whose event_at is newer than the incoming one.
func (s *Storage) UpsertRole(ctx context.Context, req *gorole.UpsertRequest) (*gorole.UpsertResult, error) {
	if req == nil || req.UserID == "" {
		return nil, gorole.ErrInvalidAssignment
	}
	ra := req.Assignment(time.Now().UTC())

	var res gorole.UpsertResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, req.UserID); err != nil {
			return err
		}

		prev, err := scanAssignment(tx.QueryRow(ctx, selectRole+" FOR UPDATE", req.UserID))
		if err != nil && !errors.Is(err, gorole.ErrAssignmentNotFound) {
			return err
		}
		res.Previous = prev

		tag, err := tx.Exec(ctx,
			`INSERT INTO role_assignments (user_id, role_id, assigned_at, event_at, source)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id) DO UPDATE SET
					role_id = EXCLUDED.role_id,
					assigned_at = EXCLUDED.assigned_at,
					event_at = EXCLUDED.event_at,
					source = EXCLUDED.source
				WHERE NOT $6::boolean
					OR role_assignments.event_at IS NULL
					OR EXCLUDED.event_at IS NULL
					OR EXCLUDED.event_at >= role_assignments.event_at`,
			ra.UserID, ra.RoleID, ra.AssignedAt, nullTime(ra.EventAt), ra.Source, req.RejectStale,
		)
		if err != nil {
			return err
		}
		res.Applied = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert role: %w", err)
	}
	return &res, nil
}

// LogAuditEntry implements gorole.AuditLogger
func (s *Storage) LogAuditEntry(ctx context.Context, entry *gorole.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_audit_log (id, user_id, old_role_id, new_role_id, source, event_at, logged_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.UserID, entry.OldRoleID, entry.NewRoleID, entry.Source,
		nullTime(entry.EventAt), entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}

// GetAuditLogs implements gorole.AuditLogger
func (s *Storage) GetAuditLogs(ctx context.Context, filter gorole.AuditLogFilter) ([]*gorole.AuditLogEntry, error) {
	var (
		where []string
		args  []any
	)
	addArg := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		addArg("user_id = $%d", filter.UserID)
	}
	if filter.StartTime != nil {
		addArg("logged_at >= $%d", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		addArg("logged_at <= $%d", filter.EndTime.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id::text, user_id, old_role_id, new_role_id, source, event_at, logged_at FROM role_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY logged_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*gorole.AuditLogEntry
	for rows.Next() {
		var (
			e       gorole.AuditLogEntry
			eventAt *time.Time
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.OldRoleID, &e.NewRoleID, &e.Source, &eventAt, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if eventAt != nil {
			e.EventAt = eventAt.UTC()
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit logs: %w", err)
	}
	return entries, nil
}

func (s *Storage) startCleanup(ctx context.Context) {
	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are retried on the next tick.
			_ = s.Cleanup(ctx)
		}
	}
}

// Cleanup deletes audit entries older than the configured retention.
func (s *Storage) Cleanup(ctx context.Context) error {
	if s.config.AuditRetention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.config.AuditRetention)
	if _, err := s.pool.Exec(ctx, `DELETE FROM role_audit_log WHERE logged_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to cleanup audit log: %w", err)
	}
	return nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
