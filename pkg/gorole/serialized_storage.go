package gorole

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// SerializedStorage makes UpsertRole atomic per user for backends that cannot
// do a conditional upsert in one round trip, such as a hot/cold pair.
// Writes for the same user are serialized in-process; the stale check runs
// under the same lock.
type SerializedStorage struct {
	storage Storage
	locks   [lockStripes]sync.Mutex
}

// NewSerializedStorage wraps storage with per-user write serialization.
func NewSerializedStorage(storage Storage) *SerializedStorage {
	return &SerializedStorage{storage: storage}
}

func (s *SerializedStorage) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *SerializedStorage) GetRole(ctx context.Context, userID string) (*RoleAssignment, error) {
	return s.storage.GetRole(ctx, userID)
}

func (s *SerializedStorage) UpsertRole(ctx context.Context, req *UpsertRequest) (*UpsertResult, error) {
	if req == nil || req.UserID == "" {
		return nil, ErrInvalidAssignment
	}
	mu := s.lockFor(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.storage.GetRole(ctx, req.UserID)
	if err != nil && !errors.Is(err, ErrAssignmentNotFound) {
		return nil, err
	}
	if req.IsStaleAgainst(existing) {
		return &UpsertResult{Previous: existing}, nil
	}

	res, err := s.storage.UpsertRole(ctx, req)
	if err != nil {
		return nil, err
	}
	// Under the lock the value read above is the one replaced, even when the
	// wrapped store cannot report it itself.
	return &UpsertResult{Applied: res.Applied, Previous: existing}, nil
}

// Unwrap returns the wrapped storage.
func (s *SerializedStorage) Unwrap() Storage {
	return s.storage
}
