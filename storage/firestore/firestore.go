// Package firestore provides a Firestore implementation of the gorole.Storage interface.
// Role writes run in a Firestore transaction, which retries on contention, so the
// stale check and the write see the same document version.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// Storage implements gorole.Storage and gorole.AuditLogger using Google Cloud Firestore
type Storage struct {
	client          *firestore.Client
	rolesCollection string
	auditCollection string
	now             func() time.Time
}

var (
	_ gorole.Storage     = (*Storage)(nil)
	_ gorole.AuditLogger = (*Storage)(nil)
)

// Config holds Firestore storage configuration
type Config struct {
	// RolesCollection is the Firestore collection for role assignments
	// Default: "billing_roles"
	RolesCollection string

	// AuditCollection is the Firestore collection for role change audit logs
	// Default: "billing_role_audit"
	AuditCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.RolesCollection == "" {
		config.RolesCollection = "billing_roles"
	}
	if config.AuditCollection == "" {
		config.AuditCollection = "billing_role_audit"
	}

	return &Storage{
		client:          client,
		rolesCollection: config.RolesCollection,
		auditCollection: config.AuditCollection,
		now:             time.Now,
	}, nil
}

// GetRole implements gorole.Storage
func (s *Storage) GetRole(ctx context.Context, userID string) (*gorole.RoleAssignment, error) {
	snap, err := s.client.Collection(s.rolesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gorole.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if !snap.Exists() {
		return nil, gorole.ErrAssignmentNotFound
	}
	return assignmentFromData(userID, snap.Data()), nil
}

// UpsertRole implements gorole.Storage
func (s *Storage) UpsertRole(ctx context.Context, req *gorole.UpsertRequest) (*gorole.UpsertResult, error) {
	if req == nil || req.UserID == "" {
		return nil, gorole.ErrInvalidAssignment
	}
	doc := s.client.Collection(s.rolesCollection).Doc(req.UserID)

	var res gorole.UpsertResult
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		res = gorole.UpsertResult{}
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			res.Previous = assignmentFromData(req.UserID, snap.Data())
		}
		if req.IsStaleAgainst(res.Previous) {
			return nil
		}

		ra := req.Assignment(s.now().UTC())
		data := map[string]interface{}{
			"roleId":     ra.RoleID,
			"assignedAt": ra.AssignedAt,
			"source":     ra.Source,
		}
		if !ra.EventAt.IsZero() {
			data["eventAt"] = ra.EventAt.UTC()
		}
		if err := tx.Set(doc, data); err != nil {
			return err
		}
		res.Applied = true
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
	data := map[string]interface{}{
		"userId":    entry.UserID,
		"newRoleId": entry.NewRoleID,
		"source":    entry.Source,
		"timestamp": entry.Timestamp.UTC(),
	}
	if entry.OldRoleID != nil {
		data["oldRoleId"] = *entry.OldRoleID
	}
	if !entry.EventAt.IsZero() {
		data["eventAt"] = entry.EventAt.UTC()
	}

	if _, err := s.client.Collection(s.auditCollection).Doc(entry.ID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}

// GetAuditLogs implements gorole.AuditLogger
func (s *Storage) GetAuditLogs(ctx context.Context, filter gorole.AuditLogFilter) ([]*gorole.AuditLogEntry, error) {
	q := s.client.Collection(s.auditCollection).Query
	if filter.UserID != "" {
		q = q.Where("userId", "==", filter.UserID)
	}
	if filter.StartTime != nil {
		q = q.Where("timestamp", ">=", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		q = q.Where("timestamp", "<=", filter.EndTime.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.OrderBy("timestamp", firestore.Desc).Limit(limit)

	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	entries := make([]*gorole.AuditLogEntry, 0, len(docs))
	for _, snap := range docs {
		data := snap.Data()
		entry := &gorole.AuditLogEntry{
			ID:        snap.Ref.ID,
			UserID:    getString(data, "userId"),
			NewRoleID: getInt(data, "newRoleId"),
			Source:    getString(data, "source"),
			EventAt:   getTime(data, "eventAt"),
			Timestamp: getTime(data, "timestamp"),
		}
		if _, ok := data["oldRoleId"]; ok {
			old := getInt(data, "oldRoleId")
			entry.OldRoleID = &old
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func assignmentFromData(userID string, data map[string]interface{}) *gorole.RoleAssignment {
	return &gorole.RoleAssignment{
		UserID:     userID,
		RoleID:     getInt(data, "roleId"),
		AssignedAt: getTime(data, "assignedAt"),
		EventAt:    getTime(data, "eventAt"),
		Source:     getString(data, "source"),
	}
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
