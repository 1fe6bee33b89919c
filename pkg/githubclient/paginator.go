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
	"strconv"

	"github.com/google/go-github/v61/github"
)

// PageFetcher retrieves one page of T starting at the given 1-based page
// number, returning the items and the next page number (0 when exhausted).
type PageFetcher[T any] func(ctx context.Context, page int) ([]T, int, error)

// Paginator is a lazy, restartable sequence over a paged GitHub listing. It
// holds no more than one page in memory at a time, and its cursor (the next
// page number) can be persisted and resumed across process restarts.
type Paginator[T any] struct {
	fetch   PageFetcher[T]
	next    int
	buf     []T
	done    bool
}

// NewPaginator builds a Paginator starting at cursor (1 for a fresh start,
// or a previously saved cursor to resume mid-listing).
func NewPaginator[T any](fetch PageFetcher[T], cursor int) *Paginator[T] {
	if cursor < 1 {
		cursor = 1
	}
	return &Paginator[T]{fetch: fetch, next: cursor}
}

// Next returns the next item in the sequence. It reports false once every
// page has been consumed.
func (p *Paginator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for len(p.buf) == 0 {
		if p.done {
			return zero, false, nil
		}
		items, nextPage, err := p.fetch(ctx, p.next)
		if err != nil {
			return zero, false, fmt.Errorf("fetch page %d: %w", p.next, err)
		}
		if nextPage == 0 {
			p.done = true
		} else {
			p.next = nextPage
		}
		p.buf = items
		if len(items) == 0 && p.done {
			return zero, false, nil
		}
	}
	item := p.buf[0]
	p.buf = p.buf[1:]
	return item, true, nil
}

// Cursor returns the page number to resume from on a future run.
func (p *Paginator[T]) Cursor() int {
	return p.next
}

// goGithubResponsePage extracts the next page number from a go-github
// Response, defaulting to 0 (no more pages) when NextPage is unset.
func goGithubResponsePage(resp *github.Response) int {
	if resp == nil {
		return 0
	}
	return resp.NextPage
}

// parseCursor converts a stored string cursor (as kept in
// store.GetCheckpoint) back into a page number, defaulting to 1 on any
// parse failure so a corrupt checkpoint restarts the listing instead of
// erroring out the pipeline.
func parseCursor(cursor string) int {
	if cursor == "" {
		return 1
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
