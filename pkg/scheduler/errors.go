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

package scheduler

import "fmt"

// UnknownPipelineError indicates a Trigger or schedule referenced a
// pipeline_type with no registered Pipeline.
type UnknownPipelineError struct {
	PipelineType string
}

func (e *UnknownPipelineError) Error() string {
	return fmt.Sprintf("unknown pipeline type: %s", e.PipelineType)
}

// AlreadyRunningError indicates a trigger (manual or cron-fired) was
// skipped because the pipeline type's concurrency guard was already
// held.
type AlreadyRunningError struct {
	PipelineType string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("pipeline %s is already running", e.PipelineType)
}

// NotRunningError indicates a cancel was requested for a pipeline type
// that is not currently running.
type NotRunningError struct {
	PipelineType string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("pipeline %s is not running", e.PipelineType)
}
