package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
)

// DomainLimiter spaces requests to the same host by a fixed delay and an
// optional token bucket.
type DomainLimiter struct {
	delay time.Duration
	rate  config.RateLimitConfig

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	next    time.Time
	limiter *rate.Limiter
}

// NewDomainLimiter creates a limiter. A zero delay and a disabled rate config make Wait a no-op.
func NewDomainLimiter(delay time.Duration, rateCfg config.RateLimitConfig) *DomainLimiter {
	return &DomainLimiter{
		delay: delay,
		rate:  rateCfg,
		hosts: make(map[string]*hostSlot),
	}
}

// Wait blocks until the host's next slot. Slots are reserved before sleeping,
// so concurrent callers for one host are spaced by the delay.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" {
		return nil
	}
	if d.delay <= 0 && !d.rate.Enabled() {
		return nil
	}
	host = strings.ToLower(host)

	d.mu.Lock()
	slot := d.slotLocked(host)
	var sleep time.Duration
	if d.delay > 0 {
		now := time.Now()
		at := slot.next
		if at.Before(now) {
			at = now
		}
		slot.next = at.Add(d.delay)
		sleep = at.Sub(now)
	}
	limiter := slot.limiter
	d.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (d *DomainLimiter) slotLocked(host string) *hostSlot {
	slot, ok := d.hosts[host]
	if ok {
		return slot
	}
	slot = &hostSlot{}
	if d.rate.Enabled() {
		interval := d.rate.Window.Duration / time.Duration(d.rate.Requests)
		if interval <= 0 {
			interval = time.Millisecond
		}
		slot.limiter = rate.NewLimiter(rate.Every(interval), d.rate.Requests)
	}
	d.hosts[host] = slot
	return slot
}
