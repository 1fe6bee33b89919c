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
	"testing"
)

func TestContributorProcessor_ResolveIsStableAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := NewContributorProcessor(s)

	ref := ContributorRef{UpstreamID: 123, Username: "octocat"}
	first, err := p.Resolve(ctx, nil, ref)
	if err != nil {
		t.Fatalf("Resolve first: %v", err)
	}
	second, err := p.Resolve(ctx, nil, ref)
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable resolution, got %s and %s", first, second)
	}
}

func TestContributorProcessor_MergeIfDuplicateIsNoopForSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := NewContributorProcessor(s)

	id, err := p.Resolve(ctx, nil, ContributorRef{UpstreamID: 1, Username: "a"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := p.MergeIfDuplicate(ctx, nil, id, id); err != nil {
		t.Fatalf("MergeIfDuplicate same id: %v", err)
	}
}

func TestContributorProcessor_MergeIfDuplicateFoldsPlaceholderIntoReal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := NewContributorProcessor(s)

	placeholderID, err := p.Resolve(ctx, nil, ContributorRef{IsBot: true})
	if err != nil {
		t.Fatalf("Resolve placeholder: %v", err)
	}
	realID, err := p.Resolve(ctx, nil, ContributorRef{UpstreamID: 555, Username: "real-user"})
	if err != nil {
		t.Fatalf("Resolve real: %v", err)
	}

	if err := p.MergeIfDuplicate(ctx, nil, realID, placeholderID); err != nil {
		t.Fatalf("MergeIfDuplicate: %v", err)
	}

	if _, err := s.GetContributorByUpstreamID(ctx, 555); err != nil {
		t.Fatalf("expected canonical contributor to survive: %v", err)
	}
}

func TestContributorProcessor_ResolveFoldsDuplicateUsernameAutomatically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := NewContributorProcessor(s)

	// Seen first without a real upstream id (e.g. a commit author resolved
	// by name/email lookup), minting a synthetic upstream id alongside the
	// real username.
	firstID, err := p.Resolve(ctx, nil, ContributorRef{Username: "dup-user"})
	if err != nil {
		t.Fatalf("Resolve first sighting: %v", err)
	}

	// The same person is later ingested normally, e.g. as a pull request
	// author, with GitHub's real upstream id attached. Resolve should fold
	// the earlier row into this one rather than leaving two under the same
	// username.
	realID, err := p.Resolve(ctx, nil, ContributorRef{UpstreamID: 777, Username: "dup-user"})
	if err != nil {
		t.Fatalf("Resolve real sighting: %v", err)
	}
	if realID == firstID {
		t.Fatalf("expected the two sightings to start out as distinct rows")
	}

	got, err := s.GetContributorByUpstreamID(ctx, 777)
	if err != nil {
		t.Fatalf("GetContributorByUpstreamID: %v", err)
	}
	if got.ID != realID {
		t.Fatalf("expected resolved id to match, got %s want %s", got.ID, realID)
	}
}
