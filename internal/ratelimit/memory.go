package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per client in process memory. At
// most maxClients buckets exist at any time: idle buckets expire after ttl
// and, when the table is full, the least recently seen client is evicted.
// Clients are kept in recency order, most recent at the front, so both
// evictions stop at the first entry they keep.
type MemoryLimiter struct {
	mu         sync.Mutex
	clients    map[string]*list.Element
	recency    *list.List
	limit      rate.Limit
	burst      int
	maxClients int
	ttl        time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter allows perMinute requests per client per minute and
// starts the eviction loop. Call Stop to end it.
func NewMemoryLimiter(perMinute, maxClients int, ttl time.Duration) *MemoryLimiter {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	l := &MemoryLimiter{
		clients:    make(map[string]*list.Element),
		recency:    list.New(),
		limit:      limit,
		burst:      perMinute,
		maxClients: maxClients,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var c *client
	if el, ok := l.clients[key]; ok {
		c = el.Value.(*client)
		l.recency.MoveToFront(el)
	} else {
		if len(l.clients) >= l.maxClients {
			l.removeLocked(l.recency.Back())
		}
		c = &client{key: key, limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = l.recency.PushFront(c)
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1), nil
}

// Len returns the number of tracked clients.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the eviction loop.
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictExpired()
		}
	}
}

func (l *MemoryLimiter) evictExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for el := l.recency.Back(); el != nil; el = l.recency.Back() {
		if now.Sub(el.Value.(*client).lastSeen) <= l.ttl {
			return
		}
		l.removeLocked(el)
	}
}

func (l *MemoryLimiter) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	c := l.recency.Remove(el).(*client)
	delete(l.clients, c.key)
}
