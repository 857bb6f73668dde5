package internal

import (
	"context"
	"sync"
	"time"
)

// rateLimitWindow and rateLimitMax implement the fixed-window policy in §4.6
// and §6's persisted-layout TTL.
const (
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 10
)

// RateLimitResult is checkAndIncrement's return value (§4.6).
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// rateLimitMsg is a single inbound request to a per-IP actor's inbox.
type rateLimitMsg struct {
	reply chan RateLimitResult
}

// ipActor is a single-threaded, per-IP rate-limit actor: one goroutine
// reading a single channel, so read-modify-write of {count, resetAt} can
// never race (§9 Design Notes: "the single-threaded-per-key property is
// load-bearing for the rate limiter's atomicity").
type ipActor struct {
	inbox chan rateLimitMsg
	count int
	resetAt time.Time
}

func newIPActor() *ipActor {
	a := &ipActor{inbox: make(chan rateLimitMsg, 8)}
	go a.run()
	return a
}

func (a *ipActor) run() {
	for msg := range a.inbox {
		now := time.Now()
		if a.resetAt.IsZero() || now.After(a.resetAt) || now.Equal(a.resetAt) {
			a.count = 0
			a.resetAt = now.Add(rateLimitWindow)
		}

		allowed := a.count < rateLimitMax
		if allowed {
			a.count++
		}

		msg.reply <- RateLimitResult{
			Allowed:   allowed,
			Remaining: rateLimitMax - a.count,
			ResetAt:   a.resetAt,
		}
	}
}

// RateLimiter owns one ipActor per client IP. Actors are created lazily and
// never torn down proactively; an idle-reaper could be added, but the spec
// doesn't call for one and actor memory is tiny (two ints + a time.Time).
type RateLimiter struct {
	mu     sync.Mutex
	actors map[string]*ipActor
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{actors: map[string]*ipActor{}}
}

func (r *RateLimiter) actorFor(ip string) *ipActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[ip]
	if !ok {
		a = newIPActor()
		r.actors[ip] = a
	}
	return a
}

// CheckAndIncrement sends a message to the IP's actor and waits for its
// reply. If the actor is somehow unreachable (inbox full after the context
// deadline), the request fails open per §4.6's stated policy: never
// cascade an outage through the rate limiter.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, ip string) RateLimitResult {
	a := r.actorFor(ip)
	reply := make(chan RateLimitResult, 1)

	select {
	case a.inbox <- rateLimitMsg{reply: reply}:
	case <-ctx.Done():
		Log(ctx).Warn("rate limiter actor unreachable, failing open", "ip", ip)
		return RateLimitResult{Allowed: true, Remaining: rateLimitMax}
	case <-time.After(2 * time.Second):
		Log(ctx).Warn("rate limiter actor unreachable, failing open", "ip", ip)
		return RateLimitResult{Allowed: true, Remaining: rateLimitMax}
	}

	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return RateLimitResult{Allowed: true, Remaining: rateLimitMax}
	}
}
