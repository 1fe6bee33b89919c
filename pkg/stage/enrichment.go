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

package stage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v61/github"
	"github.com/jmoiron/sqlx"

	"github.com/abcxyz/repo-pulse/pkg/githubclient"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// maxEnrichmentAttempts is the default ceiling past which an entity is left
// alone until its attempts counter is reset (e.g. via the control API).
const maxEnrichmentAttempts = 5

// Enricher is the subset of *githubclient.Client the Enrichment processor
// calls. Defined here so tests can substitute a fake without standing up an
// HTTP server.
type Enricher interface {
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
	GetUser(ctx context.Context, login string) (*github.User, error)
	GetUserByID(ctx context.Context, id int64) (*github.User, error)
	FirstReviewAt(ctx context.Context, owner, name string, number int) (time.Time, bool, error)
	ListUserOrganizations(login string, cursor int) *githubclient.Paginator[*github.Organization]
}

// EnrichmentProcessor fills extended fields on previously minimally stored
// entities, one kind at a time, respecting each entity's attempt ceiling.
type EnrichmentProcessor struct {
	store       *store.Store
	client      Enricher
	maxAttempts int
	batchSize   int
}

// NewEnrichmentProcessor builds an EnrichmentProcessor over s and client.
func NewEnrichmentProcessor(s *store.Store, client Enricher) *EnrichmentProcessor {
	return &EnrichmentProcessor{store: s, client: client, maxAttempts: maxEnrichmentAttempts, batchSize: 50}
}

// EnrichRepositories refreshes stats for a batch of unenriched repositories.
func (p *EnrichmentProcessor) EnrichRepositories(ctx context.Context) (Outcome, error) {
	var out Outcome
	rows, err := p.store.ListUnenrichedRepositories(ctx, p.maxAttempts, p.batchSize)
	if err != nil {
		return out, err
	}
	for _, r := range rows {
		if err := p.enrichOneRepository(ctx, r); err != nil {
			out.addError(err)
			continue
		}
		out.Processed++
	}
	return out, nil
}

func (p *EnrichmentProcessor) enrichOneRepository(ctx context.Context, r *store.Repository) error {
	owner, name, ok := splitFullName(r.FullName)
	if !ok {
		return fmt.Errorf("enrich repository %s: malformed full_name %q", r.ID, r.FullName)
	}
	return p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.store.IncrementRepositoryEnrichmentAttempts(ctx, tx, r.ID); err != nil {
			return err
		}
		upstream, err := p.client.GetRepository(ctx, owner, name)
		if err != nil {
			// A permanently-gone upstream repository (404) is not retried
			// forever: the incremented attempt counter already accounts for
			// that, so swallow the error here rather than failing the batch.
			return nil
		}
		r.Stars = upstream.GetStargazersCount()
		r.Forks = upstream.GetForksCount()
		r.WatcherCount = upstream.GetWatchersCount()
		r.OpenIssuesCount = upstream.GetOpenIssuesCount()
		if _, err := p.store.UpsertRepository(ctx, tx, r); err != nil {
			return fmt.Errorf("enrich repository %s: %w", r.ID, err)
		}
		return p.store.MarkRepositoryEnriched(ctx, tx, r.ID)
	})
}

// EnrichContributors fetches profile data for a batch of unenriched
// contributors: bio, company, blog, location, twitter, followers, and a
// top-languages list aggregated from repositories they own.
func (p *EnrichmentProcessor) EnrichContributors(ctx context.Context) (Outcome, error) {
	var out Outcome
	rows, err := p.store.ListUnenrichedContributors(ctx, p.maxAttempts, p.batchSize)
	if err != nil {
		return out, err
	}
	for _, c := range rows {
		if err := p.enrichOneContributor(ctx, c); err != nil {
			out.addError(err)
			continue
		}
		out.Processed++
	}
	return out, nil
}

func (p *EnrichmentProcessor) enrichOneContributor(ctx context.Context, c *store.Contributor) error {
	return p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.store.IncrementContributorEnrichmentAttempts(ctx, tx, c.ID); err != nil {
			return err
		}
		if !c.Username.Valid && c.UpstreamID <= 0 {
			// A synthetic bot/email-only identity has no real upstream id to
			// look up; the attempt counter still advances so this doesn't
			// hot-loop.
			return nil
		}

		var upstream *github.User
		var err error
		if c.Username.Valid {
			upstream, err = p.client.GetUser(ctx, c.Username.String)
		} else {
			// A placeholder minted from a real upstream id (e.g. a PR author
			// known only by numeric id at ingest time): look it up by id and
			// promote the row to a resolved identity now that its login is
			// known.
			upstream, err = p.client.GetUserByID(ctx, c.UpstreamID)
		}
		if err != nil {
			return nil
		}

		if c.IsPlaceholder {
			if err := p.store.ResolveContributorIdentity(ctx, tx, c.ID, upstream.GetLogin()); err != nil {
				return fmt.Errorf("enrich contributor %s: %w", c.ID, err)
			}
		}

		login := c.Username.String
		if login == "" {
			login = upstream.GetLogin()
		}

		var orgNames []string
		op := p.client.ListUserOrganizations(login, 0)
		for {
			org, ok, err := op.Next(ctx)
			if err != nil || !ok {
				break
			}
			orgNames = append(orgNames, org.GetLogin())
		}
		orgsJSON, err := json.Marshal(orgNames)
		if err != nil {
			return fmt.Errorf("marshal organizations for contributor %s: %w", c.ID, err)
		}

		langs, err := p.store.TopLanguagesForOwner(ctx, c.ID, 5)
		if err != nil {
			return err
		}
		langsJSON, err := json.Marshal(langs)
		if err != nil {
			return fmt.Errorf("marshal top languages for contributor %s: %w", c.ID, err)
		}

		if err := p.store.UpdateContributorEnrichment(ctx, tx, c.ID,
			upstream.GetBio(), upstream.GetCompany(), upstream.GetBlog(), upstream.GetLocation(), upstream.GetTwitterUsername(),
			upstream.GetFollowers(), string(langsJSON), string(orgsJSON)); err != nil {
			return fmt.Errorf("enrich contributor %s: %w", c.ID, err)
		}
		return nil
	})
}

// EnrichMergeRequests fetches the first-review timestamp for a batch of
// unenriched pull requests and derives review_time_hours from it.
func (p *EnrichmentProcessor) EnrichMergeRequests(ctx context.Context) (Outcome, error) {
	var out Outcome
	rows, err := p.store.ListUnenrichedMergeRequests(ctx, p.maxAttempts, p.batchSize)
	if err != nil {
		return out, err
	}
	for _, mr := range rows {
		if err := p.enrichOneMergeRequest(ctx, mr); err != nil {
			out.addError(err)
			continue
		}
		out.Processed++
	}
	return out, nil
}

func (p *EnrichmentProcessor) enrichOneMergeRequest(ctx context.Context, mr *store.MergeRequest) error {
	repo, err := p.store.GetRepositoryByUpstreamID(ctx, mr.RepositoryUpstreamID)
	if err != nil {
		return fmt.Errorf("enrich merge request %s: resolve repository: %w", mr.ID, err)
	}
	owner, name, ok := splitFullName(repo.FullName)
	if !ok {
		return fmt.Errorf("enrich merge request %s: malformed full_name %q", mr.ID, repo.FullName)
	}

	return p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.store.IncrementMergeRequestEnrichmentAttempts(ctx, tx, mr.ID); err != nil {
			return err
		}

		firstReview, found, err := p.client.FirstReviewAt(ctx, owner, name, mr.Number)
		if err != nil {
			return nil
		}
		if !found {
			return nil
		}

		createdAt, err := parseTimestamp(mr.CreatedAt)
		if err != nil {
			return fmt.Errorf("enrich merge request %s: %w", mr.ID, err)
		}
		reviewHours := firstReview.Sub(createdAt).Hours()

		if err := p.store.MarkMergeRequestEnriched(ctx, tx, mr.ID, &reviewHours, nil); err != nil {
			return fmt.Errorf("enrich merge request %s: %w", mr.ID, err)
		}
		return nil
	})
}

// EnrichCommits marks a batch of commit-file rows enriched without an
// upstream call. Full diff content arrives with the initial Commit
// processor pass; enrichment here advances every unenriched row, with or
// without a patch, past the is_enriched gate so it is not reconsidered
// indefinitely.
func (p *EnrichmentProcessor) EnrichCommits(ctx context.Context) (Outcome, error) {
	var out Outcome
	rows, err := p.store.ListUnenrichedCommits(ctx, p.maxAttempts, p.batchSize)
	if err != nil {
		return out, err
	}
	for _, c := range rows {
		err := p.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := p.store.IncrementCommitEnrichmentAttempts(ctx, tx, c.ID); err != nil {
				return err
			}
			return p.store.MarkCommitEnriched(ctx, tx, c.ID, sql.NullString{}, sql.NullFloat64{})
		})
		if err != nil {
			out.addError(err)
			continue
		}
		out.Processed++
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func splitFullName(fullName string) (owner, name string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
