// Package tiered provides a Hot/Cold tiered storage adapter that pairs fast
// ephemeral storage (Hot) with durable persistent storage (Cold).
//
// Writes go to Cold first and then to Hot, so the pair is not atomic as a whole.
// Wrap it in gorole.NewSerializedStorage when concurrent writers are possible.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// HotStorage is the fast tier. DeleteRole evicts an entry that could not be
// overwritten, so reads fall through to Cold.
type HotStorage interface {
	gorole.Storage
	DeleteRole(ctx context.Context, userID string) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory) for role lookups
	Hot HotStorage

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold gorole.Storage

	// AsyncAudit writes audit entries to Cold from a background worker instead
	// of on the webhook path.
	AsyncAudit bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a Hot write or an async audit write fails.
	AsyncErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered storage architecture:
// - Read-Through: GetRole (Hot → Cold → populate Hot)
// - Write-Through: UpsertRole (Cold → Hot)
// - Cold-Only: audit log, optionally queued
type Storage struct {
	hot  HotStorage
	cold gorole.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ gorole.Storage     = (*Storage)(nil)
	_ gorole.AuditLogger = (*Storage)(nil)
)

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}
	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}
	if config.AsyncAudit {
		s.startWorker()
	}
	return s, nil
}

// Close drains queued audit writes and stops the worker.
func (s *Storage) Close() error {
	if s.conf.AsyncAudit {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background audit loop. Jobs run sequentially so entries
// for one user reach Cold in order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.report(job())
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
	}
}

// GetRole implements gorole.Storage with read-through strategy.
func (s *Storage) GetRole(ctx context.Context, userID string) (*gorole.RoleAssignment, error) {
	if ra, err := s.hot.GetRole(ctx, userID); err == nil {
		return ra, nil
	}

	ra, err := s.cold.GetRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Read-repair; the conditional write keeps a newer Hot value.
	_, err = s.hot.UpsertRole(ctx, &gorole.UpsertRequest{
		UserID:      ra.UserID,
		RoleID:      ra.RoleID,
		EventAt:     ra.EventAt,
		Source:      ra.Source,
		RejectStale: true,
	})
	s.report(err)
	return ra, nil
}

// UpsertRole implements gorole.Storage with write-through strategy. Hot is
// written only when Cold applied the change. When the Hot write fails the Hot
// entry is evicted; if that fails too the call fails, so the event is retried
// rather than leaving Hot serving the replaced role.
func (s *Storage) UpsertRole(ctx context.Context, req *gorole.UpsertRequest) (*gorole.UpsertResult, error) {
	res, err := s.cold.UpsertRole(ctx, req)
	if err != nil || !res.Applied {
		return res, err
	}

	hotReq := *req
	hotReq.RejectStale = false
	if _, err := s.hot.UpsertRole(ctx, &hotReq); err != nil {
		s.report(fmt.Errorf("hot write for %s: %w", req.UserID, err))
		if derr := s.hot.DeleteRole(ctx, req.UserID); derr != nil {
			return nil, fmt.Errorf("tiered: evict hot entry for %s: %w", req.UserID, errors.Join(err, derr))
		}
	}
	return res, nil
}

// LogAuditEntry implements gorole.AuditLogger. It is a no-op when Cold keeps no audit log.
func (s *Storage) LogAuditEntry(ctx context.Context, entry *gorole.AuditLogEntry) error {
	audit, ok := s.cold.(gorole.AuditLogger)
	if !ok {
		return nil
	}
	if !s.conf.AsyncAudit {
		return audit.LogAuditEntry(ctx, entry)
	}

	// Detach from the request context; the webhook may finish first.
	job := func() error { return audit.LogAuditEntry(context.WithoutCancel(ctx), entry) }
	select {
	case s.syncQueue <- job:
		return nil
	default:
		return audit.LogAuditEntry(ctx, entry)
	}
}

// GetAuditLogs implements gorole.AuditLogger
func (s *Storage) GetAuditLogs(ctx context.Context, filter gorole.AuditLogFilter) ([]*gorole.AuditLogEntry, error) {
	audit, ok := s.cold.(gorole.AuditLogger)
	if !ok {
		return nil, nil
	}
	return audit.GetAuditLogs(ctx, filter)
}
