// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package githubclient

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// tokenState tracks one credential's observed rate-limit quota.
type tokenState struct {
	token            string
	remaining        int
	resetAt          time.Time
	quarantinedUntil time.Time
}

// TokenPool is an ordered pool of credentials; Select picks the token with
// the highest remaining quota that is not currently quarantined. A token
// that returns a 401 is quarantined until a cooldown elapses.
type TokenPool struct {
	mu                sync.Mutex
	tokens            []*tokenState
	quarantineForTime time.Duration
}

// NewTokenPool builds a pool from a static credential list. An empty list
// is valid: the pool is then unused (App-auth mode supplies its own
// token source instead).
func NewTokenPool(tokens []string, quarantineFor time.Duration) *TokenPool {
	states := make([]*tokenState, 0, len(tokens))
	for _, t := range tokens {
		// Quota is unknown until the first response reports it.
		states = append(states, &tokenState{token: t, remaining: math.MaxInt})
	}
	return &TokenPool{tokens: states, quarantineForTime: quarantineFor}
}

// Empty reports whether the pool holds no credentials (App-auth mode).
func (p *TokenPool) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens) == 0
}

// Select waits, if necessary, for at least one token to have quota above
// margin, then returns the token with the most remaining quota. It respects
// ctx cancellation while waiting on a rate-limit reset.
func (p *TokenPool) Select(ctx context.Context, margin int) (string, error) {
	for {
		p.mu.Lock()
		now := time.Now()
		var best *tokenState
		var earliestReset time.Time
		for _, ts := range p.tokens {
			if now.Before(ts.quarantinedUntil) {
				continue
			}
			if ts.remaining > margin {
				if best == nil || ts.remaining > best.remaining {
					best = ts
				}
				continue
			}
			if earliestReset.IsZero() || ts.resetAt.Before(earliestReset) {
				earliestReset = ts.resetAt
			}
		}
		if best != nil {
			tok := best.token
			p.mu.Unlock()
			return tok, nil
		}
		p.mu.Unlock()

		if earliestReset.IsZero() {
			return "", fmt.Errorf("token pool exhausted with no reset time known")
		}
		wait := time.Until(earliestReset)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ReportQuota records a token's remaining/reset metadata after a response.
func (p *TokenPool) ReportQuota(token string, remaining int, resetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ts := range p.tokens {
		if ts.token == token {
			ts.remaining = remaining
			ts.resetAt = resetAt
			return
		}
	}
}

// Quarantine excludes a token from selection until the configured cooldown
// elapses, used after a 401 response.
func (p *TokenPool) Quarantine(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ts := range p.tokens {
		if ts.token == token {
			ts.quarantinedUntil = time.Now().Add(p.quarantineForTime)
			return
		}
	}
}
