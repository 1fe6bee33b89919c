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
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// ContributorProcessor resolves contributor references to stable local
// ids, per the three-step resolution order, and merges duplicate
// identities when a later reference reveals a shared username.
type ContributorProcessor struct {
	store *store.Store
}

// NewContributorProcessor builds a ContributorProcessor over s.
func NewContributorProcessor(s *store.Store) *ContributorProcessor {
	return &ContributorProcessor{store: s}
}

// Resolve looks up or creates the local contributor for ref, within tx if
// supplied (nil runs standalone), folding in any earlier row already
// holding the same username.
func (p *ContributorProcessor) Resolve(ctx context.Context, tx *sqlx.Tx, ref ContributorRef) (string, error) {
	id, err := p.store.ResolveContributor(ctx, tx, ref.UpstreamID, ref.Username, ref.IsBot)
	if err != nil {
		return "", fmt.Errorf("resolve contributor (upstream_id=%d, username=%q): %w", ref.UpstreamID, ref.Username, err)
	}

	if ref.Username == "" {
		return id, nil
	}

	// A person first seen as a synthetic placeholder (e.g. an email-only
	// commit author, keyed on a minted negative upstream id) and later
	// referenced through a real upstream id would otherwise end up as two
	// rows under the same username. Fold the older row into this one.
	dup, err := p.store.GetContributorByUsername(ctx, ref.Username)
	if err != nil {
		var nfe *store.NotFoundError
		if errors.As(err, &nfe) {
			return id, nil
		}
		return "", fmt.Errorf("resolve contributor (upstream_id=%d, username=%q): check duplicate: %w", ref.UpstreamID, ref.Username, err)
	}
	if dup.ID != id {
		if err := p.MergeIfDuplicate(ctx, tx, id, dup.ID); err != nil {
			return "", fmt.Errorf("resolve contributor (upstream_id=%d, username=%q): %w", ref.UpstreamID, ref.Username, err)
		}
	}
	return id, nil
}

// MergeIfDuplicate folds srcID into dstID when a later reference reveals
// they are the same upstream identity (e.g. a placeholder later resolved
// to a real account). The caller is responsible for establishing which id
// is canonical; dstID is the one kept, whatever the order of the two ids.
func (p *ContributorProcessor) MergeIfDuplicate(ctx context.Context, tx *sqlx.Tx, dstID, srcID string) error {
	if dstID == srcID {
		return nil
	}
	if err := p.store.MergeContributors(ctx, tx, dstID, srcID); err != nil {
		return fmt.Errorf("merge contributor %s into %s: %w", srcID, dstID, err)
	}
	return nil
}
