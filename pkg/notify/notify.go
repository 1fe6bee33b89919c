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

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/control"
)

// PubSubNotifier publishes run-completion events to a Google Cloud
// Pub/Sub topic. It implements control.Messager.
type PubSubNotifier struct {
	projectID string
	topicID   string

	client *pubsub.Client
	topic  *pubsub.Topic
}

var _ control.Messager = (*PubSubNotifier)(nil)

// New creates a PubSubNotifier bound to the topic named by cfg.
func New(ctx context.Context, cfg *Config, opts ...option.ClientOption) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &PubSubNotifier{
		projectID: cfg.ProjectID,
		topicID:   cfg.TopicID,
		client:    client,
		topic:     client.Topic(cfg.TopicID),
	}, nil
}

// Publish marshals event as JSON and publishes it to the configured
// topic, blocking until the broker acknowledges it.
func (n *PubSubNotifier) Publish(ctx context.Context, event control.RunCompletionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run completion event: %w", err)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"pipeline_type": event.PipelineType,
			"status":        event.Status,
		},
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish run completion event for %s: %w", event.PipelineType, err)
	}

	logging.FromContext(ctx).DebugContext(ctx, "published run completion event",
		"pipeline_type", event.PipelineType, "run_id", event.RunID, "status", event.Status)

	return nil
}

// Shutdown flushes any buffered messages and closes the underlying
// client. Callers should invoke it once during process shutdown.
func (n *PubSubNotifier) Shutdown() error {
	n.topic.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
