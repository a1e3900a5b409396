package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dkeye/voicerelay/internal/domain"
)

// CommandRateLimiter keeps one token bucket per link.
type CommandRateLimiter struct {
	mu    sync.Mutex
	links map[domain.LinkID]*rate.Limiter
	limit rate.Limit
	burst int
}

func NewCommandRateLimiter(perSecond float64, burst int) *CommandRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &CommandRateLimiter{
		links: make(map[domain.LinkID]*rate.Limiter),
		limit: limit,
		burst: burst,
	}
}

func (rl *CommandRateLimiter) Allow(id domain.LinkID) bool {
	rl.mu.Lock()
	l, ok := rl.links[id]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.links[id] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *CommandRateLimiter) Forget(id domain.LinkID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.links, id)
}
