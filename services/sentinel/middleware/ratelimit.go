// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/gridwarden/gridwarden/pkg/logging"
)

// =============================================================================
// Rate Limiting
// =============================================================================

const (
	// pruneThreshold caps the bucket map before idle entries are swept.
	pruneThreshold = 4096

	// bucketIdleTimeout is how long a subject may stay quiet before its
	// bucket becomes eligible for pruning.
	bucketIdleTimeout = 10 * time.Minute
)

// bucket pairs a token bucket with its last access time so idle subjects
// can be pruned.
type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter enforces a per-subject token bucket.
//
// The subject is the caller's key fingerprint when the request is
// authenticated, otherwise the client IP. Each subject gets an
// independent bucket, so one noisy feeder cannot starve the rest of the
// fleet.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	log       *logging.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests
// with the given burst capacity per subject.
//
// Non-positive values fall back to 20 requests per second with a burst
// of 40, matching the service configuration defaults.
func NewRateLimiter(perSecond float64, burst int, log *logging.Logger) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 20
	}
	if burst <= 0 {
		burst = 40
	}
	if log == nil {
		log = logging.Default()
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		log:       log.With("component", "ratelimit"),
		buckets:   make(map[string]*bucket),
	}
}

// Middleware returns a Gin middleware that rejects requests exceeding
// the subject's bucket with 429 and a Retry-After hint.
//
// Runs after Authenticate when auth is enabled so the subject is the key
// fingerprint rather than the IP; unauthenticated surfaces fall back to
// c.ClientIP, which honors X-Forwarded-For behind trusted proxies.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		if id := GetIdentity(c); id != nil {
			subject = id.KeyID
		}

		if !rl.take(subject).Allow() {
			rl.log.Warn("rate limit exceeded",
				"subject", subject,
				"method", c.Request.Method,
				"path", c.Request.URL.Path)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// take returns the bucket for a subject, creating it on first sight.
func (rl *RateLimiter) take(subject string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.buckets[subject]; ok {
		b.seen = now
		return b.lim
	}

	if len(rl.buckets) >= pruneThreshold {
		rl.prune(now)
	}

	b := &bucket{lim: rate.NewLimiter(rl.perSecond, rl.burst), seen: now}
	rl.buckets[subject] = b
	return b.lim
}

// prune drops buckets idle past the timeout. Caller holds rl.mu.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-bucketIdleTimeout)
	removed := 0
	for subject, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, subject)
			removed++
		}
	}
	if removed > 0 {
		rl.log.Debug("pruned idle rate limit buckets", "removed", removed)
	}
}

// ActiveSubjects returns the number of tracked buckets.
func (rl *RateLimiter) ActiveSubjects() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
