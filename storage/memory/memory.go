// Package memory provides an in-memory implementation of the gorole.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// Storage implements gorole.Storage and gorole.AuditLogger using in-memory maps
type Storage struct {
	mu    sync.RWMutex
	roles map[string]*gorole.RoleAssignment
	audit []*gorole.AuditLogEntry
	now   func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		roles: make(map[string]*gorole.RoleAssignment),
		now:   time.Now,
	}
}

// GetRole implements gorole.Storage
func (s *Storage) GetRole(_ context.Context, userID string) (*gorole.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.roles[userID]
	if !ok {
		return nil, gorole.ErrAssignmentNotFound
	}
	return a.Clone(), nil
}

// UpsertRole implements gorole.Storage. The check and the write happen under one lock.
func (s *Storage) UpsertRole(_ context.Context, req *gorole.UpsertRequest) (*gorole.UpsertResult, error) {
	if req == nil || req.UserID == "" {
		return nil, gorole.ErrInvalidAssignment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.roles[req.UserID]
	res := &gorole.UpsertResult{Previous: existing.Clone()}
	if req.IsStaleAgainst(existing) {
		return res, nil
	}
	s.roles[req.UserID] = req.Assignment(s.now().UTC())
	res.Applied = true
	return res, nil
}

// DeleteRole removes a stored assignment. Deleting a missing one is not an error.
func (s *Storage) DeleteRole(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, userID)
	return nil
}

// LogAuditEntry implements gorole.AuditLogger
func (s *Storage) LogAuditEntry(_ context.Context, entry *gorole.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	s.audit = append(s.audit, &e)
	return nil
}

// GetAuditLogs implements gorole.AuditLogger
func (s *Storage) GetAuditLogs(_ context.Context, filter gorole.AuditLogFilter) ([]*gorole.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*gorole.AuditLogEntry
	for _, e := range s.audit {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
			continue
		}
		c := *e
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored assignments.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roles)
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = make(map[string]*gorole.RoleAssignment)
	s.audit = nil
}
