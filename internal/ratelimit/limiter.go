// Package ratelimit provides per-client request limiting with bounded state.
package ratelimit

import "context"

// Limiter decides whether a client may issue another request.
type Limiter interface {
	// Allow records one request for key and reports whether it is within
	// the limit.
	Allow(ctx context.Context, key string) (bool, error)
	// Stop releases background resources. It is safe to call more than once.
	Stop()
}
