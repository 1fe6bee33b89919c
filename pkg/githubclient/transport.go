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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

// instrumentedTransport is the single http.RoundTripper every GitHub request
// passes through: token selection, rate limiting, circuit breaking, retry
// with backoff, rate-limit-header bookkeeping, and the conditional cache.
type instrumentedTransport struct {
	base        http.RoundTripper
	client      *Client
	config      *Config
	tokenSource oauth2.TokenSource // set only in GitHub App auth mode
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.authToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("select github credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	key := cacheKey(req.Method, req.URL.String())
	var cached *cacheEntry
	if req.Method == http.MethodGet {
		if entry, ok := t.client.cache.Get(ctx, key); ok {
			cached = entry
			req.Header.Set("If-None-Match", entry.ETag)
		}
	}

	if err := t.client.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	result, err := t.client.breaker.Execute(func() (interface{}, error) {
		return t.attemptWithRetry(req)
	})
	if err != nil {
		return nil, err
	}
	resp := result.(*http.Response)

	t.recordQuota(token, resp)

	if resp.StatusCode == http.StatusUnauthorized {
		t.client.pool.Quarantine(token)
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		resp.Body.Close()
		return t.syntheticResponse(req, cached), nil
	}

	if req.Method == http.MethodGet && resp.StatusCode == http.StatusOK {
		t.cacheSuccessfulResponse(ctx, key, resp)
	}

	return resp, nil
}

func (t *instrumentedTransport) authToken(ctx context.Context) (string, error) {
	if t.tokenSource != nil {
		tok, err := t.tokenSource.Token()
		if err != nil {
			return "", fmt.Errorf("get app token: %w", err)
		}
		return tok.AccessToken, nil
	}
	return t.client.pool.Select(ctx, t.config.RateLimitMargin)
}

// attemptWithRetry retries transient failures (network errors, 5xx,
// secondary rate limits) with exponential backoff and jitter. 4xx errors
// other than 429 are not retried.
func (t *instrumentedTransport) attemptWithRetry(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("buffer request body for retry: %w", err)
		}
		bodyBytes = b
		req.Body.Close()
	}

	backoff := retry.WithMaxRetries(t.config.MaxRetryAttempts, retry.WithJitterPercent(10, retry.NewExponentialBackoff(200*time.Millisecond)))

	var resp *http.Response
	err := retry.Do(req.Context(), backoff, func(ctx context.Context) error {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		r, err := t.base.RoundTrip(req)
		if err != nil {
			return retry.RetryableError(err)
		}

		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests || isSecondaryRateLimit(r) {
			r.Body.Close()
			return retry.RetryableError(fmt.Errorf("transient github response: %d", r.StatusCode))
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("github request failed after retries: %w", err)
	}
	return resp, nil
}

func isSecondaryRateLimit(resp *http.Response) bool {
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("Retry-After") != ""
}

func (t *instrumentedTransport) recordQuota(token string, resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	t.client.pool.ReportQuota(token, remaining, time.Unix(resetUnix, 0))
}

func (t *instrumentedTransport) cacheSuccessfulResponse(ctx context.Context, key string, resp *http.Response) {
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	t.client.cache.Set(ctx, key, &cacheEntry{ETag: etag, Body: body})
}

func (t *instrumentedTransport) syntheticResponse(req *http.Request, cached *cacheEntry) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK (from conditional cache)",
		Header:     http.Header{"ETag": []string{cached.ETag}},
		Body:       io.NopCloser(bytes.NewReader(cached.Body)),
		Request:    req,
	}
}
