package messaging

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// DefaultOutboundPerMinute caps outbound messages per phone number.
// WhatsApp flags accounts that burst-message individual numbers.
const DefaultOutboundPerMinute = 20

// RateLimiter is a process-wide, per-phone outbound rate limiter. It is
// advisory: it throttles sends, it does not guarantee global ordering.
// Lifecycle is process start to process end; construct one and inject
// it where needed.
type RateLimiter struct {
	mu       sync.Mutex
	perPhone map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing perMinute messages per
// phone number.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultOutboundPerMinute
	}
	return &RateLimiter{
		perPhone: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
	}
}

func (r *RateLimiter) limiterFor(phone string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.perPhone[phone]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.perPhone[phone] = l
	}
	return l
}

// Allow reports whether one more message to phone fits in the window.
func (r *RateLimiter) Allow(phone string) bool {
	return r.limiterFor(phone).Allow()
}

// Wait blocks until a message to phone is permitted or the context is
// cancelled.
func (r *RateLimiter) Wait(ctx context.Context, phone string) error {
	return r.limiterFor(phone).Wait(ctx)
}

// Outbound adapts a Service into the pipeline's outbound channel,
// consulting the rate limiter before every send.
type Outbound struct {
	service Service
	limiter *RateLimiter
}

// NewOutbound wraps a messaging service with the per-phone limiter.
// limiter may be nil to disable throttling.
func NewOutbound(service Service, limiter *RateLimiter) *Outbound {
	return &Outbound{service: service, limiter: limiter}
}

// Send delivers a message, throttled per phone, and returns the
// delivery id.
func (o *Outbound) Send(ctx context.Context, phone, text string) (string, error) {
	if o.limiter != nil {
		if !o.limiter.Allow(phone) {
			slog.Warn("Outbound.Send: rate limit reached, waiting", "phone", phone)
			if err := o.limiter.Wait(ctx, phone); err != nil {
				return "", err
			}
		}
	}
	return o.service.SendMessage(ctx, phone, text)
}
