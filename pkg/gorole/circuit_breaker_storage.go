package gorole

import "context"

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{storage: storage, cb: cb}
}

func (s *CircuitBreakerStorage) GetRole(ctx context.Context, userID string) (*RoleAssignment, error) {
	var a *RoleAssignment
	err := s.cb.Execute(ctx, func() error {
		var e error
		a, e = s.storage.GetRole(ctx, userID)
		return e
	})
	return a, err
}

func (s *CircuitBreakerStorage) UpsertRole(ctx context.Context, req *UpsertRequest) (*UpsertResult, error) {
	var res *UpsertResult
	err := s.cb.Execute(ctx, func() error {
		var e error
		res, e = s.storage.UpsertRole(ctx, req)
		return e
	})
	return res, err
}
