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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the GitHub Client's environment-driven configuration. Either a
// token pool (GitHubTokens) or GitHub App credentials must be supplied;
// never both.
type Config struct {
	// GitHubEnterpriseServerURL is the GitHub Enterprise Server instance URL,
	// empty for github.com.
	GitHubEnterpriseServerURL string `env:"GITHUB_ENTERPRISE_SERVER_URL"`

	// GitHubTokens is a comma-separated personal-access-token pool.
	GitHubTokens string `env:"GITHUB_TOKENS"`

	// GitHubAppID, GitHubPrivateKey, GitHubPrivateKeyKMSKeyID configure the
	// alternate GitHub App authentication strategy.
	GitHubAppID              string `env:"GITHUB_APP_ID"`
	GitHubPrivateKey         string `env:"GITHUB_PRIVATE_KEY_SECRET"`
	GitHubPrivateKeyKMSKeyID string `env:"GITHUB_PRIVATE_KEY_KMS_KEY_ID"`

	// RateLimitMargin is the remaining-quota floor below which requests
	// suspend until the rate limit window resets.
	RateLimitMargin int `env:"GITHUB_RATE_LIMIT_MARGIN,default=50"`

	// RequestTimeout bounds every individual upstream call (spec's T_req).
	RequestTimeout time.Duration `env:"GITHUB_REQUEST_TIMEOUT,default=30s"`

	// MaxRetryAttempts caps the go-retry exponential-backoff loop for
	// transient failures.
	MaxRetryAttempts uint64 `env:"GITHUB_MAX_RETRY_ATTEMPTS,default=5"`

	// CircuitBreakerThreshold is the failure ratio (0,1] that trips the
	// breaker open. Requests and failures are counted cumulatively since the
	// breaker last changed state; the ratio is not taken over a sliding
	// window of the most recent requests.
	CircuitBreakerThreshold float64 `env:"GITHUB_CIRCUIT_BREAKER_THRESHOLD,default=0.6"`

	// CircuitBreakerMinRequests is the minimum number of requests counted
	// since the breaker last changed state before the threshold is evaluated.
	CircuitBreakerMinRequests uint32 `env:"GITHUB_CIRCUIT_BREAKER_MIN_REQUESTS,default=10"`

	// CircuitBreakerCooldown is how long the breaker stays open before a
	// half-open probe is allowed.
	CircuitBreakerCooldown time.Duration `env:"GITHUB_CIRCUIT_BREAKER_COOLDOWN,default=30s"`

	// TokenQuarantineDuration is how long a token that returned a 401 is
	// excluded from selection.
	TokenQuarantineDuration time.Duration `env:"GITHUB_TOKEN_QUARANTINE_DURATION,default=5m"`

	// CacheL1Size bounds the in-process ETag cache's entry count.
	CacheL1Size int `env:"GITHUB_CACHE_L1_SIZE,default=4096"`

	// RedisAddr, when set, enables the L2 conditional-request cache so
	// ETags survive process restarts.
	RedisAddr string `env:"REDIS_ADDR"`
}

// Validate does sanity checking on the configuration.
func (c *Config) Validate(ctx context.Context) error {
	var errs []error

	if c.GitHubEnterpriseServerURL != "" && !strings.HasPrefix(c.GitHubEnterpriseServerURL, "https://") {
		errs = append(errs, fmt.Errorf(`GITHUB_ENTERPRISE_SERVER_URL does not start with "https://"`))
	}

	hasTokens := c.GitHubTokens != ""
	hasApp := c.GitHubAppID != "" || c.GitHubPrivateKey != "" || c.GitHubPrivateKeyKMSKeyID != ""
	if !hasTokens && !hasApp {
		errs = append(errs, fmt.Errorf("one of GITHUB_TOKENS or GITHUB_APP_ID/GITHUB_PRIVATE_KEY_SECRET is required"))
	}
	if hasTokens && hasApp {
		errs = append(errs, fmt.Errorf("GITHUB_TOKENS and GitHub App credentials are mutually exclusive"))
	}
	if hasApp && c.GitHubAppID == "" {
		errs = append(errs, fmt.Errorf("GITHUB_APP_ID is required when using App authentication"))
	}
	if hasApp && c.GitHubPrivateKey == "" && c.GitHubPrivateKeyKMSKeyID == "" {
		errs = append(errs, fmt.Errorf("GITHUB_PRIVATE_KEY_SECRET or GITHUB_PRIVATE_KEY_KMS_KEY_ID is required when using App authentication"))
	}
	if c.RateLimitMargin < 0 {
		errs = append(errs, fmt.Errorf("GITHUB_RATE_LIMIT_MARGIN must not be negative"))
	}
	if c.CircuitBreakerThreshold <= 0 || c.CircuitBreakerThreshold > 1 {
		errs = append(errs, fmt.Errorf("GITHUB_CIRCUIT_BREAKER_THRESHOLD must be in (0,1]"))
	}

	return errors.Join(errs...)
}

// Tokens splits GitHubTokens into the pool's initial token list.
func (c *Config) Tokens() []string {
	if c.GitHubTokens == "" {
		return nil
	}
	parts := strings.Split(c.GitHubTokens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ToFlags registers the GitHub client flags.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("GITHUB OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "github-enterprise-server-url",
		Target: &c.GitHubEnterpriseServerURL,
		EnvVar: "GITHUB_ENTERPRISE_SERVER_URL",
		Usage:  `The GitHub Enterprise Server instance URL, format "https://[hostname]".`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "github-tokens",
		Target: &c.GitHubTokens,
		EnvVar: "GITHUB_TOKENS",
		Usage:  `Comma-separated personal access token pool.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "github-app-id",
		Target: &c.GitHubAppID,
		EnvVar: "GITHUB_APP_ID",
		Usage:  `The provisioned GitHub App ID (alternate auth strategy).`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "github-private-key",
		Target: &c.GitHubPrivateKey,
		EnvVar: "GITHUB_PRIVATE_KEY_SECRET",
		Usage:  `The GitHub App private key.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "github-private-key-kms-key-id",
		Target: &c.GitHubPrivateKeyKMSKeyID,
		EnvVar: "GITHUB_PRIVATE_KEY_KMS_KEY_ID",
		Usage:  `The KMS key ID for the GitHub App private key.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "github-rate-limit-margin",
		Target:  &c.RateLimitMargin,
		EnvVar:  "GITHUB_RATE_LIMIT_MARGIN",
		Default: 50,
		Usage:   "Remaining-quota floor below which requests suspend until reset.",
	})

	f.StringVar(&cli.StringVar{
		Name:   "redis-addr",
		Target: &c.RedisAddr,
		EnvVar: "REDIS_ADDR",
		Usage:  "Optional Redis address for the L2 conditional-request cache.",
	})

	return set
}

// NewConfig reads configuration from the environment.
func NewConfig(ctx context.Context) (*Config, error) {
	return newConfig(ctx, envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var c Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &c,
		Lookuper: lu,
	}); err != nil {
		return nil, fmt.Errorf("processing github client config: %w", err)
	}
	return &c, nil
}
