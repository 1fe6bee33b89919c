// Copyright 2025 The Authors (see AUTHORS file)
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
	"testing"

	"github.com/shurcooL/githubv4"
)

type fakeGraphQLQuerier struct {
	fill func(q interface{})
	err  error
}

func (f *fakeGraphQLQuerier) Query(ctx context.Context, q interface{}, vars map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.fill(q)
	return nil
}

func TestClient_FetchPullRequestDetail(t *testing.T) {
	t.Parallel()

	c := &Client{
		config: &Config{},
	}
	c.graphqlClient = &fakeGraphQLQuerier{
		fill: func(q interface{}) {
			query := q.(*pullRequestDetailQuery)
			query.Repository.PullRequest.Number = 42
			query.Repository.PullRequest.Title = "add widgets"
			query.Repository.PullRequest.State = "MERGED"
			query.Repository.PullRequest.Additions = 10
			query.Repository.PullRequest.Deletions = 3
			query.Repository.PullRequest.Commits.Nodes = []struct {
				Commit struct {
					Oid     githubv4.String
					Message githubv4.String
				}
			}{
				{Commit: struct {
					Oid     githubv4.String
					Message githubv4.String
				}{Oid: "abc123", Message: "add widget"}},
			}
		},
	}
	c.graphqlOnce.Do(func() {}) // pre-mark as initialized so graphql() returns the fake

	got, err := c.FetchPullRequestDetail(context.Background(), "acme", "widgets", 42)
	if err != nil {
		t.Fatalf("FetchPullRequestDetail() error = %v", err)
	}
	if got.Number != 42 || got.Title != "add widgets" || got.State != "MERGED" {
		t.Fatalf("FetchPullRequestDetail() = %+v, unexpected metadata", got)
	}
	if len(got.Commits) != 1 || got.Commits[0].SHA != "abc123" {
		t.Fatalf("FetchPullRequestDetail().Commits = %+v, want one commit with SHA abc123", got.Commits)
	}
}

func TestClient_FetchPullRequestDetail_Error(t *testing.T) {
	t.Parallel()

	c := &Client{config: &Config{}}
	c.graphqlClient = &fakeGraphQLQuerier{err: context.DeadlineExceeded}
	c.graphqlOnce.Do(func() {})

	if _, err := c.FetchPullRequestDetail(context.Background(), "acme", "widgets", 1); err == nil {
		t.Fatal("FetchPullRequestDetail() expected error, got nil")
	}
}
