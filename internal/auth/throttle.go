package auth

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultLoginsPerMinute = 10
	defaultLoginBurst      = 5
	throttleTTL            = 10 * time.Minute
	throttleClients        = 1024
)

// loginThrottle keeps one token bucket per client address. Idle buckets
// expire, so a client that stops trying starts over with a full burst.
type loginThrottle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newLoginThrottle(perMinute float64, burst int) *loginThrottle {
	if perMinute <= 0 {
		perMinute = defaultLoginsPerMinute
	}
	if burst <= 0 {
		burst = defaultLoginBurst
	}
	return &loginThrottle{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](throttleClients, nil, throttleTTL),
	}
}

// Allow reports whether client may attempt another login now.
func (t *loginThrottle) Allow(client string) bool {
	t.mu.Lock()
	lim, ok := t.limiters.Get(client)
	if !ok {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.limiters.Add(client, lim)
	}
	t.mu.Unlock()
	return lim.Allow()
}
