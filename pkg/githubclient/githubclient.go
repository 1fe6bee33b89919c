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

// Package githubclient is the sole component that talks to the upstream
// GitHub API: it wraps go-github with a token pool, a rate limiter, a
// circuit breaker, retry-with-backoff, and a two-tier conditional-request
// cache. Stage processors never issue HTTP directly.
package githubclient

import (
	"context"
	"crypto"
	"fmt"
	"net/http"
	"sync"

	kms "cloud.google.com/go/kms/apiv1"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/google/go-github/v61/github"
	"github.com/sethvargo/go-gcpkms/pkg/gcpkms"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/abcxyz/pkg/githubauth"
)

// Client is the wrapped GitHub REST/GraphQL client plus the resilience
// stack described in this package's doc comment.
type Client struct {
	config *Config
	app    *githubauth.App // non-nil only when using GitHub App authentication

	rest    *github.Client
	pool    *TokenPool
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   *conditionalCache

	graphqlOnce   sync.Once
	graphqlClient graphqlQuerier
}

// New creates a [Client] from the given config, choosing token-pool or
// GitHub App authentication based on which fields are populated (Validate
// already rejected configuring both).
func New(ctx context.Context, c *Config) (*Client, error) {
	cache, err := newConditionalCache(c)
	if err != nil {
		return nil, fmt.Errorf("create conditional cache: %w", err)
	}

	client := &Client{
		config:  c,
		pool:    NewTokenPool(c.Tokens(), c.TokenQuarantineDuration),
		breaker: newBreaker(c),
		limiter: rate.NewLimiter(rate.Every(0), 1), // rate.Every(0) is rate.Inf: Wait never blocks
		cache:   cache,
	}

	transport := &instrumentedTransport{
		base:   http.DefaultTransport,
		client: client,
		config: c,
	}

	if c.GitHubAppID != "" {
		app, appErr := newGitHubApp(ctx, c)
		if appErr != nil {
			return nil, appErr
		}
		client.app = app
		transport.tokenSource = app.OAuthAppTokenSource()
	}

	httpClient := &http.Client{Transport: transport, Timeout: c.RequestTimeout}
	rest := github.NewClient(httpClient)
	if v := c.GitHubEnterpriseServerURL; v != "" {
		rest, err = rest.WithEnterpriseURLs(v, v)
		if err != nil {
			return nil, fmt.Errorf("create enterprise client: %w", err)
		}
	}
	client.rest = rest

	return client, nil
}

func newGitHubApp(ctx context.Context, c *Config) (*githubauth.App, error) {
	var signer crypto.Signer
	var err error

	switch {
	case c.GitHubPrivateKeyKMSKeyID != "":
		kmsClient, kmsErr := kms.NewKeyManagementClient(ctx)
		if kmsErr != nil {
			return nil, fmt.Errorf("create key management client: %w", kmsErr)
		}
		signer, err = gcpkms.NewSigner(ctx, kmsClient, c.GitHubPrivateKeyKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("create KMS app signer: %w", err)
		}
	case c.GitHubPrivateKey != "" && looksLikeSecretManagerName(c.GitHubPrivateKey):
		smClient, smErr := secretmanager.NewClient(ctx)
		if smErr != nil {
			return nil, fmt.Errorf("create secretmanager client: %w", smErr)
		}
		defer smClient.Close()
		result, accessErr := smClient.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: c.GitHubPrivateKey,
		})
		if accessErr != nil {
			return nil, fmt.Errorf("access secret version: %w", accessErr)
		}
		signer, err = githubauth.NewPrivateKeySigner(string(result.GetPayload().GetData()))
		if err != nil {
			return nil, fmt.Errorf("create private key signer from secret: %w", err)
		}
	default:
		signer, err = githubauth.NewPrivateKeySigner(c.GitHubPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("create private key signer: %w", err)
		}
	}

	var opts []githubauth.Option
	if v := c.GitHubEnterpriseServerURL; v != "" {
		opts = append(opts, githubauth.WithBaseURL(v+"/api/v3"))
	}
	app, err := githubauth.NewApp(c.GitHubAppID, signer, opts...)
	if err != nil {
		return nil, fmt.Errorf("create github app: %w", err)
	}
	return app, nil
}

// looksLikeSecretManagerName is a light heuristic distinguishing a raw PEM
// value from a Secret Manager resource name ("projects/.../secrets/.../versions/...").
func looksLikeSecretManagerName(v string) bool {
	return len(v) > 9 && v[:9] == "projects/"
}

func newBreaker(c *Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "github-client",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     c.CircuitBreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < c.CircuitBreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= c.CircuitBreakerThreshold
		},
	})
}

// App returns the underlying GitHub App handle, or nil when the client was
// constructed with a token pool instead.
func (c *Client) App() *githubauth.App {
	return c.app
}

// REST exposes the underlying go-github client for operations this package
// has not yet wrapped with a typed method. New call sites should prefer
// adding a typed method in operations.go so every request goes through the
// same resilience stack (all REST calls already do, via the shared
// transport; this just controls API surface discoverability).
func (c *Client) REST() *github.Client {
	return c.rest
}
