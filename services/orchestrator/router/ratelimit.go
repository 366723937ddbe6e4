// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// DefaultRequestsPerMinute is the per-provider outbound request budget.
const DefaultRequestsPerMinute = 60

// Limiters enforces a per-provider request budget over a sliding
// minute. Metered providers share one limiter per provider name across
// every router in the process, so concurrent runs cannot multiply the
// outbound rate. The local provider is never limited.
type Limiters struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perMinute int
}

var (
	sharedLimiters     *Limiters
	sharedLimitersOnce sync.Once
)

// SharedLimiters returns the process-wide limiter set.
func SharedLimiters() *Limiters {
	sharedLimitersOnce.Do(func() {
		sharedLimiters = NewLimiters(DefaultRequestsPerMinute)
	})
	return sharedLimiters
}

// NewLimiters creates an isolated limiter set, mainly for tests.
func NewLimiters(perMinute int) *Limiters {
	return &Limiters{
		limiters:  make(map[string]*rate.Limiter),
		perMinute: perMinute,
	}
}

// Wait blocks until the provider's budget admits one more request, or
// the context is done. The "local" provider passes through immediately.
func (l *Limiters) Wait(ctx context.Context, provider string) error {
	if provider == "" || provider == ProviderLocal {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[provider] = lim
	}
	l.mu.Unlock()

	return lim.Wait(ctx)
}
