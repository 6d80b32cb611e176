package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

var (
	_ gorole.Storage     = (*Storage)(nil)
	_ gorole.AuditLogger = (*Storage)(nil)
)

func TestStorage_GetRoleNotFound(t *testing.T) {
	s := New()
	_, err := s.GetRole(context.Background(), "missing")
	assert.ErrorIs(t, err, gorole.ErrAssignmentNotFound)
}

func TestStorage_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	res, err := s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 2, Source: "test"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Previous)

	res, err = s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 3})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 2, res.Previous.RoleID)
	assert.Equal(t, "test", res.Previous.Source)

	a, err := s.GetRole(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, a.RoleID)
	assert.Equal(t, 1, s.Len())
}

func TestStorage_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := &gorole.UpsertRequest{UserID: "42", RoleID: 2}

	for i := 0; i < 3; i++ {
		_, err := s.UpsertRole(ctx, req)
		require.NoError(t, err)
	}

	a, err := s.GetRole(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, a.RoleID)
	assert.Equal(t, 1, s.Len())
}

func TestStorage_RejectStale(t *testing.T) {
	ctx := context.Background()
	s := New()
	newer := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	_, err := s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 3, EventAt: newer, RejectStale: true})
	require.NoError(t, err)

	res, err := s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 1, EventAt: older, RejectStale: true})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 3, res.Previous.RoleID)

	// without the flag the older write wins
	res, err = s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 1, EventAt: older})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	a, err := s.GetRole(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, a.RoleID)
}

func TestStorage_DeleteRole(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 2})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRole(ctx, "42"))
	require.NoError(t, s.DeleteRole(ctx, "42"))
	_, err = s.GetRole(ctx, "42")
	assert.ErrorIs(t, err, gorole.ErrAssignmentNotFound)
}

func TestStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: 2})
	require.NoError(t, err)

	a, err := s.GetRole(ctx, "42")
	require.NoError(t, err)
	a.RoleID = 99

	b, err := s.GetRole(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, b.RoleID)
}

func TestStorage_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(role int) {
			defer wg.Done()
			_, _ = s.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "42", RoleID: role % 3})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
	a, err := s.GetRole(ctx, "42")
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1, 2}, a.RoleID)
}

func TestStorage_AuditLogs(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.LogAuditEntry(ctx, &gorole.AuditLogEntry{ID: "a", UserID: "1", NewRoleID: 2, Timestamp: base}))
	require.NoError(t, s.LogAuditEntry(ctx, &gorole.AuditLogEntry{ID: "b", UserID: "2", NewRoleID: 3, Timestamp: base.Add(time.Minute)}))
	require.NoError(t, s.LogAuditEntry(ctx, &gorole.AuditLogEntry{ID: "c", UserID: "1", NewRoleID: 1, Timestamp: base.Add(2 * time.Minute)}))

	logs, err := s.GetAuditLogs(ctx, gorole.AuditLogFilter{UserID: "1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].ID)

	logs, err = s.GetAuditLogs(ctx, gorole.AuditLogFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "c", logs[0].ID)

	s.Clear()
	logs, err = s.GetAuditLogs(ctx, gorole.AuditLogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}
