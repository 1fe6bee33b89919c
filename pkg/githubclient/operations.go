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
	"time"

	"github.com/google/go-github/v61/github"
)

// GetRepository fetches a single repository by owner/name.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	repo, _, err := c.rest.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	return repo, nil
}

// ListRepositoryPullRequests returns a paginator over every pull request
// (open, closed, and merged) for a repository, resumable from cursor.
func (c *Client) ListRepositoryPullRequests(owner, name string, cursor int) *Paginator[*github.PullRequest] {
	fetch := func(ctx context.Context, page int) ([]*github.PullRequest, int, error) {
		prs, resp, err := c.rest.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
			State:       "all",
			Sort:        "updated",
			Direction:   "asc",
			ListOptions: github.ListOptions{Page: page, PerPage: 100},
		})
		if err != nil {
			return nil, 0, fmt.Errorf("list pull requests %s/%s page %d: %w", owner, name, page, err)
		}
		return prs, goGithubResponsePage(resp), nil
	}
	return NewPaginator(fetch, cursor)
}

// GetPullRequest fetches a single pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, owner, name string, number int) (*github.PullRequest, error) {
	pr, _, err := c.rest.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request %s/%s#%d: %w", owner, name, number, err)
	}
	return pr, nil
}

// ListPullRequestCommits returns a paginator over a pull request's commits.
func (c *Client) ListPullRequestCommits(owner, name string, number, cursor int) *Paginator[*github.RepositoryCommit] {
	fetch := func(ctx context.Context, page int) ([]*github.RepositoryCommit, int, error) {
		commits, resp, err := c.rest.PullRequests.ListCommits(ctx, owner, name, number, &github.ListOptions{Page: page, PerPage: 100})
		if err != nil {
			return nil, 0, fmt.Errorf("list commits %s/%s#%d page %d: %w", owner, name, number, page, err)
		}
		return commits, goGithubResponsePage(resp), nil
	}
	return NewPaginator(fetch, cursor)
}

// ListCommitFiles returns a paginator over the files changed by a single
// commit, since go-github exposes file-level detail only via the single
// commit Get endpoint, re-fetched per page with a diff-context window.
func (c *Client) ListCommitFiles(owner, name, sha string, cursor int) *Paginator[*github.CommitFile] {
	fetch := func(ctx context.Context, page int) ([]*github.CommitFile, int, error) {
		commit, resp, err := c.rest.Repositories.GetCommit(ctx, owner, name, sha, &github.ListOptions{Page: page, PerPage: 100})
		if err != nil {
			return nil, 0, fmt.Errorf("get commit %s/%s@%s page %d: %w", owner, name, sha, page, err)
		}
		return commit.Files, goGithubResponsePage(resp), nil
	}
	return NewPaginator(fetch, cursor)
}

// FirstReviewAt walks every review on a pull request and returns the
// earliest submission timestamp, used to derive review-time enrichment.
// ok is false when the pull request has no reviews yet.
func (c *Client) FirstReviewAt(ctx context.Context, owner, name string, number int) (time.Time, bool, error) {
	p := c.ListReviews(owner, name, number, 0)
	var earliest time.Time
	for {
		review, ok, err := p.Next(ctx)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("first review at %s/%s#%d: %w", owner, name, number, err)
		}
		if !ok {
			break
		}
		if review != nil && review.SubmittedAt != nil {
			t := review.SubmittedAt.Time
			if earliest.IsZero() || t.Before(earliest) {
				earliest = t
			}
		}
	}
	if earliest.IsZero() {
		return time.Time{}, false, nil
	}
	return earliest, true, nil
}

// GetUser fetches a user/contributor profile by login.
func (c *Client) GetUser(ctx context.Context, login string) (*github.User, error) {
	user, _, err := c.rest.Users.Get(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", login, err)
	}
	return user, nil
}

// GetUserByID fetches a user/contributor profile by upstream numeric id,
// used to resolve a placeholder contributor whose login isn't known yet.
func (c *Client) GetUserByID(ctx context.Context, id int64) (*github.User, error) {
	user, _, err := c.rest.Users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user by id %d: %w", id, err)
	}
	return user, nil
}

// ListUserOrganizations returns a paginator over a user's public
// organization memberships, used for contributor profile enrichment.
func (c *Client) ListUserOrganizations(login string, cursor int) *Paginator[*github.Organization] {
	fetch := func(ctx context.Context, page int) ([]*github.Organization, int, error) {
		orgs, resp, err := c.rest.Organizations.List(ctx, login, &github.ListOptions{Page: page, PerPage: 100})
		if err != nil {
			return nil, 0, fmt.Errorf("list organizations for %s page %d: %w", login, page, err)
		}
		return orgs, goGithubResponsePage(resp), nil
	}
	return NewPaginator(fetch, cursor)
}

// ListUserEvents returns a paginator over a user's public events, used for
// the collaboration-score enrichment signals (issue comments, reviews).
func (c *Client) ListUserEvents(login string, cursor int) *Paginator[*github.Event] {
	fetch := func(ctx context.Context, page int) ([]*github.Event, int, error) {
		events, resp, err := c.rest.Activity.ListEventsPerformedByUser(ctx, login, true, &github.ListOptions{Page: page, PerPage: 100})
		if err != nil {
			return nil, 0, fmt.Errorf("list events for %s page %d: %w", login, page, err)
		}
		return events, goGithubResponsePage(resp), nil
	}
	return NewPaginator(fetch, cursor)
}

// ListReviews returns a paginator over a pull request's reviews, used to
// compute review-time and collaboration signals.
func (c *Client) ListReviews(owner, name string, number, cursor int) *Paginator[*github.PullRequestReview] {
	fetch := func(ctx context.Context, page int) ([]*github.PullRequestReview, int, error) {
		reviews, resp, err := c.rest.PullRequests.ListReviews(ctx, owner, name, number, &github.ListOptions{Page: page, PerPage: 100})
		if err != nil {
			return nil, 0, fmt.Errorf("list reviews %s/%s#%d page %d: %w", owner, name, number, page, err)
		}
		return reviews, goGithubResponsePage(resp), nil
	}
	return NewPaginator(fetch, cursor)
}
