package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

const (
	testProjectID = "test-project"
	emulatorHost  = "localhost:8080"
)

func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	if _, err := client.Collection("ping").Doc("ping").Get(ctx); err != nil && status.Code(err) != codes.NotFound {
		_ = client.Close()
		t.Skipf("Firestore emulator not reachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// setupTestStorage uses unique collection names for each test run
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	suffix := fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano())
	storage, err := New(setupFirestoreClient(t), Config{
		RolesCollection: "test_roles_" + suffix,
		AuditCollection: "test_audit_" + suffix,
	})
	require.NoError(t, err)
	return storage
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestStorage_GetUpsertRole(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.GetRole(ctx, "user1")
	assert.ErrorIs(t, err, gorole.ErrAssignmentNotFound)

	eventAt := time.Now().UTC().Truncate(time.Microsecond)
	res, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{
		UserID: "user1", RoleID: 2, EventAt: eventAt, Source: "invoice.paid",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Previous)

	got, err := storage.GetRole(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RoleID)
	assert.True(t, eventAt.Equal(got.EventAt))
	assert.Equal(t, "invoice.paid", got.Source)

	res, err = storage.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "user1", RoleID: 0, Source: "customer.subscription.deleted"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 2, res.Previous.RoleID)
}

func TestStorage_UpsertRole_RejectStale(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	newer := time.Now().UTC()

	_, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "user1", RoleID: 3, EventAt: newer, RejectStale: true})
	require.NoError(t, err)

	res, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{
		UserID: "user1", RoleID: 2, EventAt: newer.Add(-time.Minute), RejectStale: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 3, res.Previous.RoleID)

	got, err := storage.GetRole(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RoleID)
}

func TestStorage_AuditLog(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, storage.LogAuditEntry(ctx, &gorole.AuditLogEntry{
		ID: uuid.NewString(), UserID: "user1", NewRoleID: 2, Source: "checkout.session.completed", Timestamp: now,
	}))
	old := 2
	require.NoError(t, storage.LogAuditEntry(ctx, &gorole.AuditLogEntry{
		ID: uuid.NewString(), UserID: "user1", OldRoleID: &old, NewRoleID: 1,
		Source: "customer.subscription.deleted", Timestamp: now.Add(time.Second),
	}))

	entries, err := storage.GetAuditLogs(ctx, gorole.AuditLogFilter{UserID: "user1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].NewRoleID)
	require.NotNil(t, entries[0].OldRoleID)
	assert.Nil(t, entries[1].OldRoleID)
}
