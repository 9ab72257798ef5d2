package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/sentinel-judge/internal/repository"
)

// ---- IdempotencyStore mock ----

var _ repository.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore is a test double for repository.IdempotencyStore.
type IdempotencyStore struct {
	mu sync.Mutex

	AcquireLockFn func(ctx context.Context, messageID string) (bool, error)
	ReleaseLockFn func(ctx context.Context, messageID string) error
	ForgetFn      func(ctx context.Context, messageID string) error

	AcquireCalls []string
	ReleaseCalls []string
	ForgetCalls  []string
}

func (m *IdempotencyStore) AcquireLock(ctx context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, messageID)
	m.mu.Unlock()
	if m.AcquireLockFn != nil {
		return m.AcquireLockFn(ctx, messageID)
	}
	return true, nil // default: lock acquired
}

func (m *IdempotencyStore) ReleaseLock(ctx context.Context, messageID string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, messageID)
	m.mu.Unlock()
	if m.ReleaseLockFn != nil {
		return m.ReleaseLockFn(ctx, messageID)
	}
	return nil
}

func (m *IdempotencyStore) Forget(ctx context.Context, messageID string) error {
	m.mu.Lock()
	m.ForgetCalls = append(m.ForgetCalls, messageID)
	m.mu.Unlock()
	if m.ForgetFn != nil {
		return m.ForgetFn(ctx, messageID)
	}
	return nil
}
