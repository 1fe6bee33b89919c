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

	"github.com/shurcooL/githubv4"
)

// PullRequestDetail is the result of one batched GraphQL fetch: a pull
// request's metadata and commit list in a single round trip, instead of
// the REST path's Get + paginated ListCommits calls.
type PullRequestDetail struct {
	Number    int
	Title     string
	State     string
	Additions int
	Deletions int
	Commits   []PullRequestDetailCommit
}

// PullRequestDetailCommit is one commit within a batched pull request
// fetch.
type PullRequestDetailCommit struct {
	SHA     string
	Message string
}

type pullRequestDetailQuery struct {
	Repository struct {
		PullRequest struct {
			Number    githubv4.Int
			Title     githubv4.String
			State     githubv4.String
			Additions githubv4.Int
			Deletions githubv4.Int
			Commits   struct {
				Nodes []struct {
					Commit struct {
						Oid     githubv4.String
						Message githubv4.String
					}
				}
			} `graphql:"commits(first: 100)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// graphqlQuerier is the subset of *githubv4.Client this package depends on,
// so tests can substitute a fake without a live transport.
type graphqlQuerier interface {
	Query(ctx context.Context, q interface{}, vars map[string]interface{}) error
}

func (c *Client) graphql() graphqlQuerier {
	c.graphqlOnce.Do(func() {
		httpClient := c.rest.Client() // shares the token pool, breaker, limiter and cache
		if c.config.GitHubEnterpriseServerURL != "" {
			c.graphqlClient = githubv4.NewEnterpriseClient(c.config.GitHubEnterpriseServerURL+"/api/graphql", httpClient)
		} else {
			c.graphqlClient = githubv4.NewClient(httpClient)
		}
	})
	return c.graphqlClient
}

// FetchPullRequestDetail retrieves a pull request's metadata and commit
// list in one GraphQL round trip, conserving REST rate-limit quota versus
// the Get+ListCommits paginated REST sequence. Per-commit file listings
// are still fetched over REST via ListCommitFiles, since GraphQL's commit
// history connection does not expose per-file diff stats at this nesting
// depth.
func (c *Client) FetchPullRequestDetail(ctx context.Context, owner, name string, number int) (*PullRequestDetail, error) {
	var q pullRequestDetailQuery
	vars := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
	}
	if err := c.graphql().Query(ctx, &q, vars); err != nil {
		return nil, fmt.Errorf("graphql fetch pull request %s/%s#%d: %w", owner, name, number, err)
	}

	pr := q.Repository.PullRequest
	detail := &PullRequestDetail{
		Number:    int(pr.Number),
		Title:     string(pr.Title),
		State:     string(pr.State),
		Additions: int(pr.Additions),
		Deletions: int(pr.Deletions),
	}
	for _, node := range pr.Commits.Nodes {
		detail.Commits = append(detail.Commits, PullRequestDetailCommit{
			SHA:     string(node.Commit.Oid),
			Message: string(node.Commit.Message),
		})
	}
	return detail, nil
}
