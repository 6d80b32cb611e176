package gorole

import "time"

// Metrics defines the interface for tracking role operations.
type Metrics interface {
	// RecordRoleAssignment records an assignment attempt and whether it was applied.
	RecordRoleAssignment(roleID int, applied bool)

	// RecordRoleLookup records the duration of a role read.
	RecordRoleLookup(duration time.Duration)

	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordRoleAssignment(roleID int, applied bool)                              {}
func (n *NoopMetrics) RecordRoleLookup(duration time.Duration)                                    {}
func (n *NoopMetrics) RecordCacheHit(cacheType string)                                            {}
func (n *NoopMetrics) RecordCacheMiss(cacheType string)                                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
