package services

import (
	"sync"

	"golang.org/x/time/rate"
)

// ChatRateLimiter enforces a per-chat message rate. Each chat gets its own
// token bucket; chats never contend with one another.
type ChatRateLimiter struct {
	perMinute int
	limiters  sync.Map // map[int64]*rate.Limiter
}

// NewChatRateLimiter creates a limiter allowing perMinute messages per chat.
// perMinute <= 0 disables limiting.
func NewChatRateLimiter(perMinute int) *ChatRateLimiter {
	return &ChatRateLimiter{perMinute: perMinute}
}

// Allow reports whether the chat may send another message right now
func (l *ChatRateLimiter) Allow(chatID int64) bool {
	if l.perMinute <= 0 {
		return true
	}

	limiter, ok := l.limiters.Load(chatID)
	if !ok {
		// Burst equals the full per-minute allowance
		limiter, _ = l.limiters.LoadOrStore(chatID,
			rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute))
	}
	return limiter.(*rate.Limiter).Allow()
}
