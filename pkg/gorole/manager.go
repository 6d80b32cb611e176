package gorole

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager reads and writes per-user role assignments on top of a Storage backend.
type Manager struct {
	storage Storage
	audit   AuditLogger
	cache   Cache
	config  Config
	stripes [lockStripes]cacheStripe
}

// NewManager creates a new role manager with the given storage and configuration
func NewManager(storage Storage, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if config.DefaultRoleID < 0 {
		return nil, fmt.Errorf("%w: default role id %d", ErrInvalidAssignment, config.DefaultRoleID)
	}

	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	m := &Manager{
		audit:  findAuditLogger(storage),
		cache:  NewNoopCache(),
		config: config,
	}

	if cc := config.CacheConfig; cc != nil && cc.Enabled {
		if cc.TTL <= 0 {
			cc.TTL = time.Minute
		}
		m.cache = NewLRUCache(cc.MaxEntries)
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		metrics, logger := config.Metrics, config.Logger
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("role storage circuit breaker state changed", Field{"state", string(state)})
		})
		storage = NewCircuitBreakerStorage(storage, cb)
	}
	m.storage = storage

	return m, nil
}

func findAuditLogger(s Storage) AuditLogger {
	for s != nil {
		if al, ok := s.(AuditLogger); ok {
			return al
		}
		u, ok := s.(interface{ Unwrap() Storage })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
	return nil
}

// DefaultRoleID returns the role reported for users with no stored assignment.
func (m *Manager) DefaultRoleID() int {
	return m.config.DefaultRoleID
}

// GetAssignment returns the stored assignment or ErrAssignmentNotFound.
func (m *Manager) GetAssignment(ctx context.Context, userID string) (*RoleAssignment, error) {
	if a, ok := m.cache.GetRole(userID); ok {
		m.config.Metrics.RecordCacheHit("role")
		return a, nil
	}
	m.config.Metrics.RecordCacheMiss("role")

	gen := m.generation(userID)
	start := time.Now()
	a, err := m.storage.GetRole(ctx, userID)
	m.config.Metrics.RecordStorageOperation("get_role", time.Since(start), ignoreNotFound(err))
	m.config.Metrics.RecordRoleLookup(time.Since(start))
	if err != nil {
		return nil, err
	}

	if cc := m.config.CacheConfig; cc != nil && cc.Enabled {
		m.populate(userID, a, gen, cc.TTL)
	}
	return a, nil
}

// cacheStripe orders cache fills against invalidations for the users hashed to it.
type cacheStripe struct {
	mu  sync.Mutex
	gen uint64
}

func (m *Manager) stripeFor(userID string) *cacheStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &m.stripes[h.Sum32()%lockStripes]
}

func (m *Manager) generation(userID string) uint64 {
	st := m.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// populate caches a only if no write for the stripe landed since gen was read.
func (m *Manager) populate(userID string, a *RoleAssignment, gen uint64, ttl time.Duration) {
	st := m.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		return
	}
	m.cache.SetRole(userID, a, ttl)
}

func (m *Manager) invalidate(userID string) {
	st := m.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++
	m.cache.InvalidateRole(userID)
}

// GetRole returns the user's role id, falling back to the default role when
// the user has no assignment.
func (m *Manager) GetRole(ctx context.Context, userID string) (int, error) {
	a, err := m.GetAssignment(ctx, userID)
	if errors.Is(err, ErrAssignmentNotFound) {
		return m.config.DefaultRoleID, nil
	}
	if err != nil {
		return 0, err
	}
	return a.RoleID, nil
}

// HasRole reports whether the user currently holds one of the given roles.
func (m *Manager) HasRole(ctx context.Context, userID string, roleIDs ...int) (bool, error) {
	role, err := m.GetRole(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range roleIDs {
		if id == role {
			return true, nil
		}
	}
	return false, nil
}

// AssignRole writes the user's role. Repeating the same request is harmless.
// With req.RejectStale set, a request older than the stored assignment is
// skipped and reported with Applied false.
func (m *Manager) AssignRole(ctx context.Context, req *UpsertRequest) (*AssignResult, error) {
	if req == nil || strings.TrimSpace(req.UserID) == "" || req.RoleID < 0 {
		return nil, ErrInvalidAssignment
	}

	start := time.Now()
	res, err := m.storage.UpsertRole(ctx, req)
	m.config.Metrics.RecordStorageOperation("upsert_role", time.Since(start), err)
	// A failed write may still have reached part of a tiered store.
	m.invalidate(req.UserID)
	if err != nil {
		return nil, err
	}
	m.config.Metrics.RecordRoleAssignment(req.RoleID, res.Applied)

	result := &AssignResult{Applied: res.Applied, Previous: res.Previous}
	if !res.Applied {
		result.Current = res.Previous
		m.config.Logger.Info("stale role assignment skipped",
			Field{"user_id", req.UserID}, Field{"role_id", req.RoleID}, Field{"source", req.Source})
		return result, nil
	}
	result.Current = req.Assignment(m.config.Now())

	if m.audit != nil {
		m.logAudit(ctx, result)
	}
	return result, nil
}

func (m *Manager) logAudit(ctx context.Context, result *AssignResult) {
	entry := &AuditLogEntry{
		ID:        uuid.NewString(),
		UserID:    result.Current.UserID,
		NewRoleID: result.Current.RoleID,
		Source:    result.Current.Source,
		EventAt:   result.Current.EventAt,
		Timestamp: result.Current.AssignedAt,
	}
	if result.Previous != nil {
		old := result.Previous.RoleID
		entry.OldRoleID = &old
	}
	if err := m.audit.LogAuditEntry(ctx, entry); err != nil {
		m.config.Logger.Warn("failed to write role audit entry",
			Field{"user_id", entry.UserID}, Field{"error", err.Error()})
	}
}

// AuditLogs returns audit entries when the storage keeps them.
func (m *Manager) AuditLogs(ctx context.Context, filter AuditLogFilter) ([]*AuditLogEntry, error) {
	if m.audit == nil {
		return nil, nil
	}
	return m.audit.GetAuditLogs(ctx, filter)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrAssignmentNotFound) {
		return nil
	}
	return err
}
