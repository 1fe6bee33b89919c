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

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/repo-pulse/pkg/analyticsexport"
	"github.com/abcxyz/repo-pulse/pkg/archive"
	"github.com/abcxyz/repo-pulse/pkg/githubclient"
	"github.com/abcxyz/repo-pulse/pkg/notify"
	"github.com/abcxyz/repo-pulse/pkg/rawbuffer"
	"github.com/abcxyz/repo-pulse/pkg/sitemap"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// runtimeConfig composes every sub-config needed to wire the full set of
// pipelines: the store connection, the upstream GitHub client, the
// always-on sitemap indexer, and the three optional GCP-backed
// components (analytics export, archive, notify), each disabled by
// default until its own Config.Enabled() gate is met: a project ID for
// analytics export and notify, a bucket URI and retention period for
// archive.
type runtimeConfig struct {
	Store           store.Config
	GitHubClient    githubclient.Config
	Sitemap         sitemap.Config
	AnalyticsExport analyticsexport.Config
	Archive         archive.Config
	Notify          notify.Config
}

func (c *runtimeConfig) Validate(ctx context.Context) error {
	return errors.Join(
		c.Store.Validate(),
		c.GitHubClient.Validate(ctx),
		c.Sitemap.Validate(),
		c.AnalyticsExport.Validate(),
		c.Archive.Validate(),
		c.Notify.Validate(),
	)
}

func (c *runtimeConfig) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	set = c.Store.ToFlags(set)
	set = c.GitHubClient.ToFlags(set)
	set = c.Sitemap.ToFlags(set)
	set = c.AnalyticsExport.ToFlags(set)
	set = c.Archive.ToFlags(set)
	set = c.Notify.ToFlags(set)
	return set
}

// runtimeComponents bundles every constructed component a pipeline run
// or the scheduler server needs. closers must be run in order on
// shutdown.
type runtimeComponents struct {
	Store     *store.Store
	Buffer    *rawbuffer.Buffer
	GitHub    *githubclient.Client
	Sitemap   *sitemap.Indexer
	Analytics *analyticsexport.Exporter
	Archive   *archive.Archiver
	Notifier  *notify.PubSubNotifier

	closers []func() error
}

// Close runs every component's Close/Shutdown in reverse build order,
// joining any errors.
func (rc *runtimeComponents) Close() error {
	var errs []error
	for i := len(rc.closers) - 1; i >= 0; i-- {
		if err := rc.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildRuntimeComponents opens the store and constructs every component
// runtimeConfig describes, skipping the GCP-backed ones whose Enabled()
// gate is false. The caller must call Close on the result once done,
// even on a later error from this function if the returned value is
// non-nil.
func buildRuntimeComponents(ctx context.Context, cfg *runtimeConfig) (*runtimeComponents, error) {
	rc := &runtimeComponents{}

	s, err := store.Open(ctx, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rc.Store = s
	rc.closers = append(rc.closers, s.Close)

	rc.Buffer = rawbuffer.New(s)

	gh, err := githubclient.New(ctx, &cfg.GitHubClient)
	if err != nil {
		return rc, fmt.Errorf("construct github client: %w", err)
	}
	rc.GitHub = gh

	rc.Sitemap = sitemap.New(s, &cfg.Sitemap)

	if cfg.AnalyticsExport.Enabled() {
		bq, err := analyticsexport.NewClient(ctx, &cfg.AnalyticsExport)
		if err != nil {
			return rc, fmt.Errorf("construct analytics export client: %w", err)
		}
		rc.closers = append(rc.closers, bq.Close)
		rc.Analytics = analyticsexport.New(s, bq, &cfg.AnalyticsExport)
	}

	if cfg.Archive.Enabled() {
		objects, err := archive.NewObjectStore(ctx)
		if err != nil {
			return rc, fmt.Errorf("construct archive object store: %w", err)
		}
		rc.closers = append(rc.closers, objects.Close)
		rc.Archive = archive.New(s, objects, &cfg.Archive)
	}

	if cfg.Notify.Enabled() {
		notifier, err := notify.New(ctx, &cfg.Notify)
		if err != nil {
			return rc, fmt.Errorf("construct notifier: %w", err)
		}
		rc.closers = append(rc.closers, notifier.Shutdown)
		rc.Notifier = notifier
	}

	return rc, nil
}
