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

// Package rawbuffer is the durable work queue between fetch and transform:
// a thin layer over store.Store's raw_payloads table that adds
// high/low-watermark backpressure so a fast fetch stage cannot outrun a
// slow transform stage and exhaust memory or token budget.
package rawbuffer

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

// Buffer wraps a Store with the kind-scoped backpressure gate described in
// spec §4.3/§200.
type Buffer struct {
	store *store.Store

	// HighWaterMark is the queue depth at which Enqueue starts blocking.
	HighWaterMark int
	// LowWaterMark is the depth the queue must drain below before Enqueue
	// unblocks.
	LowWaterMark int
	// LeaseTTL bounds how long a dequeued-but-uncommitted row stays
	// ineligible for re-dequeue by another run.
	LeaseTTL time.Duration
	// PollInterval is how often a blocked Enqueue re-checks depth.
	PollInterval time.Duration
}

// New builds a Buffer with spec-reasonable defaults; zero-value fields on
// the returned Buffer may be overridden before first use.
func New(s *store.Store) *Buffer {
	return &Buffer{
		store:         s,
		HighWaterMark: 5000,
		LowWaterMark:  1000,
		LeaseTTL:      10 * time.Minute,
		PollInterval:  500 * time.Millisecond,
	}
}

// Enqueue stores a raw JSON blob of the given kind. If the kind's queue
// depth is at or above HighWaterMark, Enqueue blocks until it drains below
// LowWaterMark (or ctx is cancelled), so a fast fetch stage cannot outrun a
// slow transform stage.
func (b *Buffer) Enqueue(ctx context.Context, tx *sqlx.Tx, kind, payload string) (int64, error) {
	if err := b.waitForCapacity(ctx, kind); err != nil {
		return 0, err
	}
	id, err := b.store.EnqueueRawPayload(ctx, tx, kind, payload)
	if err != nil {
		return 0, fmt.Errorf("rawbuffer enqueue: %w", err)
	}
	return id, nil
}

func (b *Buffer) waitForCapacity(ctx context.Context, kind string) error {
	if b.HighWaterMark <= 0 {
		return nil
	}
	depth, err := b.store.QueueDepth(ctx, kind)
	if err != nil {
		return fmt.Errorf("rawbuffer check depth: %w", err)
	}
	if depth < b.HighWaterMark {
		return nil
	}

	logger := logging.FromContext(ctx)
	logger.WarnContext(ctx, "raw buffer above high water mark, suspending fetch",
		"kind", kind, "depth", depth, "high_water_mark", b.HighWaterMark)

	interval := b.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			depth, err := b.store.QueueDepth(ctx, kind)
			if err != nil {
				return fmt.Errorf("rawbuffer check depth: %w", err)
			}
			if depth < b.LowWaterMark {
				return nil
			}
		}
	}
}

// Dequeue returns up to limit unprocessed rows of kind, leased to runID.
func (b *Buffer) Dequeue(ctx context.Context, kind, runID string, limit int) ([]*store.RawPayload, error) {
	rows, err := b.store.DequeueRawPayloads(ctx, kind, runID, limit, b.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("rawbuffer dequeue: %w", err)
	}
	return rows, nil
}

// MarkProcessed flips a dequeued row to processed, called only after its
// derived rows have committed in the same transaction.
func (b *Buffer) MarkProcessed(ctx context.Context, tx *sqlx.Tx, id int64) error {
	if err := b.store.MarkRawPayloadProcessed(ctx, tx, id); err != nil {
		return fmt.Errorf("rawbuffer mark processed: %w", err)
	}
	return nil
}

// Release clears a row's lease after a failed transform, making it
// immediately eligible for re-dequeue instead of waiting out the lease TTL.
func (b *Buffer) Release(ctx context.Context, id int64) error {
	if err := b.store.ReleaseRawPayload(ctx, id); err != nil {
		return fmt.Errorf("rawbuffer release: %w", err)
	}
	return nil
}

// Depth reports the current unprocessed queue depth for a kind.
func (b *Buffer) Depth(ctx context.Context, kind string) (int, error) {
	depth, err := b.store.QueueDepth(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("rawbuffer depth: %w", err)
	}
	return depth, nil
}
