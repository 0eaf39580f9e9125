package commands

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter hands out one token bucket per user. Idle buckets are pruned.
type userLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[int64]*userBucket
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newUserLimiter(perMin, burst int) *userLimiter {
	l := &userLimiter{users: map[int64]*userBucket{}}
	l.setLimits(perMin, burst)
	return l
}

// setLimits applies to new and existing buckets. perMin <= 0 disables
// limiting.
func (l *userLimiter) setLimits(perMin, burst int) {
	lim := rate.Inf
	if perMin > 0 {
		lim = rate.Limit(float64(perMin) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = lim
	l.burst = burst
	for _, b := range l.users {
		b.lim.SetLimit(lim)
		b.lim.SetBurst(burst)
	}
}

func (l *userLimiter) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.users[userID]
	if !ok {
		b = &userBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// prune drops buckets not used since before now-idle and returns how many.
func (l *userLimiter) prune(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.users {
		if now.Sub(b.seen) > idle {
			delete(l.users, id)
			n++
		}
	}
	return n
}

func (l *userLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
