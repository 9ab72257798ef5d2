package repository

import "context"

// IdempotencyStore defines the interface for distributed deduplication locks.
type IdempotencyStore interface {
	// AcquireLock attempts to acquire an exclusive processing lock for a message.
	// Returns true if the lock was acquired (first time), false if already locked (duplicate).
	AcquireLock(ctx context.Context, messageID string) (bool, error)

	// ReleaseLock keeps the lock with a TTL for eventual cleanup, so late
	// redeliveries are still detected as duplicates.
	ReleaseLock(ctx context.Context, messageID string) error

	// Forget drops the lock so a requeued message can be processed again.
	Forget(ctx context.Context, messageID string) error
}
