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
	"encoding/json"
	"fmt"

	"github.com/abcxyz/repo-pulse/pkg/analyticsexport"
	"github.com/abcxyz/repo-pulse/pkg/archive"
	"github.com/abcxyz/repo-pulse/pkg/githubclient"
	"github.com/abcxyz/repo-pulse/pkg/pipeline"
	"github.com/abcxyz/repo-pulse/pkg/rawbuffer"
	"github.com/abcxyz/repo-pulse/pkg/sitemap"
	"github.com/abcxyz/repo-pulse/pkg/stage"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// Pipeline type names registered with the Scheduler and addressable by
// "pipeline run". These are this deployment's concrete pipeline_type
// values; spec §2/§4.4-4.7 describes the stages they sequence.
const (
	pipelineRepositorySync   = "repository_sync"
	pipelineMergeRequestSync = "merge_request_sync"
	pipelineCommitSync       = "commit_sync"
	pipelineEnrichment       = "enrichment"
	pipelineRanking          = "ranking"
	pipelineSitemapIndex     = "sitemap_index"
	pipelineAnalyticsExport  = "analytics_export"
	pipelineArchive          = "archive"
)

// rawFetchBatchSize bounds how many raw payloads a single sync stage
// invocation drains per pipeline run.
const rawFetchBatchSize = 200

// buildPipelines assembles every pipeline_type this binary knows how to
// run, wiring the stage processors (C4) into pipeline.Pipeline values the
// Executor (C5) and Scheduler (C6) can drive. The optional components
// (sitemap indexer, analytics exporter, archiver) are included only when
// the caller passes a non-nil instance; the analytics exporter and
// archiver are nil when their own Config.Enabled() gate is false.
func buildPipelines(s *store.Store, buf *rawbuffer.Buffer, gh *githubclient.Client, idx *sitemap.Indexer, exporter *analyticsexport.Exporter, archiver *archive.Archiver) (map[string]*pipeline.Pipeline, error) {
	pipelines := make(map[string]*pipeline.Pipeline)

	repoProc := stage.NewRepositoryProcessor(s)
	repoSync := pipeline.New(pipelineRepositorySync)
	if err := repoSync.AddStage(pipeline.StageDef{
		Name:   "upsert_repositories",
		Policy: pipeline.ContinueOnError,
		Run:    drainAndDecode(buf, "repository", rawFetchBatchSize, func(ctx context.Context, in *stage.RepositoryInput) error { _, err := repoProc.Process(ctx, in); return err }),
	}); err != nil {
		return nil, err
	}
	pipelines[pipelineRepositorySync] = repoSync

	mrProc := stage.NewMergeRequestProcessor(s)
	mrSync := pipeline.New(pipelineMergeRequestSync)
	if err := mrSync.AddStage(pipeline.StageDef{
		Name:   "upsert_merge_requests",
		Policy: pipeline.ContinueOnError,
		Run:    drainAndDecode(buf, "merge_request", rawFetchBatchSize, func(ctx context.Context, in *stage.MergeRequestInput) error { _, err := mrProc.Process(ctx, in); return err }),
	}); err != nil {
		return nil, err
	}
	pipelines[pipelineMergeRequestSync] = mrSync

	commitProc := stage.NewCommitProcessor(s)
	commitSync := pipeline.New(pipelineCommitSync)
	if err := commitSync.AddStage(pipeline.StageDef{
		Name:   "upsert_commits",
		Policy: pipeline.ContinueOnError,
		Run: drainAndDecode(buf, "commit", rawFetchBatchSize, func(ctx context.Context, in *stage.CommitInput) error {
			_, err := commitProc.Process(ctx, in)
			return err
		}),
	}); err != nil {
		return nil, err
	}
	pipelines[pipelineCommitSync] = commitSync

	if gh != nil {
		enrichProc := stage.NewEnrichmentProcessor(s, gh)
		enrich := pipeline.New(pipelineEnrichment)
		stages := []struct {
			name string
			run  func(ctx context.Context) (stage.Outcome, error)
		}{
			{"enrich_repositories", enrichProc.EnrichRepositories},
			{"enrich_contributors", enrichProc.EnrichContributors},
			{"enrich_merge_requests", enrichProc.EnrichMergeRequests},
			{"enrich_commits", enrichProc.EnrichCommits},
		}
		for _, st := range stages {
			run := st.run
			if err := enrich.AddStage(pipeline.StageDef{
				Name:   st.name,
				Policy: pipeline.Skip,
				Run:    outcomeStage(run),
			}); err != nil {
				return nil, err
			}
		}
		pipelines[pipelineEnrichment] = enrich
	}

	rankingProc := stage.NewRankingProcessor(s)
	ranking := pipeline.New(pipelineRanking)
	if err := ranking.AddStage(pipeline.StageDef{
		Name:   "calculate_rankings",
		Policy: pipeline.ContinueOnError,
		Run:    outcomeStage(rankingProc.Run),
	}); err != nil {
		return nil, err
	}
	pipelines[pipelineRanking] = ranking

	if idx != nil {
		sitemapIndex := pipeline.New(pipelineSitemapIndex)
		if err := sitemapIndex.AddStage(pipeline.StageDef{
			Name:   "advance_sitemap",
			Policy: pipeline.FailFast,
			Run:    errStage(idx.Run),
		}); err != nil {
			return nil, err
		}
		pipelines[pipelineSitemapIndex] = sitemapIndex
	}

	if exporter != nil {
		analytics := pipeline.New(pipelineAnalyticsExport)
		if err := analytics.AddStage(pipeline.StageDef{
			Name:   "export_to_bigquery",
			Policy: pipeline.FailFast,
			Run:    errStage(exporter.Run),
		}); err != nil {
			return nil, err
		}
		pipelines[pipelineAnalyticsExport] = analytics
	}

	if archiver != nil {
		coldStorage := pipeline.New(pipelineArchive)
		if err := coldStorage.AddStage(pipeline.StageDef{
			Name:   "archive_retired_rows",
			Policy: pipeline.FailFast,
			Run:    errStage(archiver.Run),
		}); err != nil {
			return nil, err
		}
		pipelines[pipelineArchive] = coldStorage
	}

	return pipelines, nil
}

// drainAndDecode builds a StageFunc that dequeues one batch of kind raw
// payloads, JSON-decodes each into a *T, and hands it to process. A
// payload whose process call fails is released back to the buffer instead
// of marked processed, so a later run retries it.
func drainAndDecode[T any](buf *rawbuffer.Buffer, kind string, batchSize int, process func(ctx context.Context, in *T) error) pipeline.StageFunc {
	return func(ctx context.Context, rc *pipeline.RunContext) (pipeline.Result, error) {
		var result pipeline.Result

		payloads, err := buf.Dequeue(ctx, kind, rc.RunID, batchSize)
		if err != nil {
			return result, fmt.Errorf("dequeue %s payloads: %w", kind, err)
		}

		for _, raw := range payloads {
			var in T
			if err := json.Unmarshal([]byte(raw.Payload), &in); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("decode %s payload %d: %w", kind, raw.ID, err))
				if relErr := buf.Release(ctx, raw.ID); relErr != nil {
					return result, fmt.Errorf("release %s payload %d: %w", kind, raw.ID, relErr)
				}
				continue
			}

			if err := process(ctx, &in); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err)
				if relErr := buf.Release(ctx, raw.ID); relErr != nil {
					return result, fmt.Errorf("release %s payload %d: %w", kind, raw.ID, relErr)
				}
				continue
			}

			if err := buf.MarkProcessed(ctx, nil, raw.ID); err != nil {
				return result, fmt.Errorf("mark %s payload %d processed: %w", kind, raw.ID, err)
			}
			result.Processed++
		}

		return result, nil
	}
}

// outcomeStage adapts a processor's (stage.Outcome, error)-returning batch
// method into a pipeline.StageFunc.
func outcomeStage(run func(ctx context.Context) (stage.Outcome, error)) pipeline.StageFunc {
	return func(ctx context.Context, rc *pipeline.RunContext) (pipeline.Result, error) {
		out, err := run(ctx)
		result := pipeline.Result{Processed: out.Processed, Failed: out.Failed, Errors: out.Errors}
		if err != nil {
			return result, err
		}
		return result, nil
	}
}

// errStage adapts a plain error-returning single-shot call (sitemap
// advance, analytics export batch, archive sweep) into a pipeline.StageFunc
// that reports one processed unit on success.
func errStage(run func(ctx context.Context) error) pipeline.StageFunc {
	return func(ctx context.Context, rc *pipeline.RunContext) (pipeline.Result, error) {
		if err := run(ctx); err != nil {
			return pipeline.Result{Failed: 1, Errors: []error{err}}, err
		}
		return pipeline.Result{Processed: 1}, nil
	}
}
