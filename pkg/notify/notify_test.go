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
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/abcxyz/repo-pulse/pkg/control"
)

const (
	testProjectID = "test-project-id"
	testTopicID   = "test-run-completions-topic"
)

func setupPubSubServer(ctx context.Context, t *testing.T, projectID, topicID string, opts ...pstest.ServerReactorOption) (*grpc.ClientConn, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer(opts...)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("fail to connect to test pubsub server: %v", err)
	}

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("fail to create test pubsub client: %v", err)
	}
	if _, err := client.CreateTopic(ctx, topicID); err != nil {
		t.Fatalf("failed to create test pubsub topic: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("failed to close topic-creation client: %v", err)
	}

	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Fatalf("failed to cleanup test pubsub conn: %v", err)
		}
		if err := srv.Close(); err != nil {
			t.Fatalf("failed to cleanup test pubsub server: %v", err)
		}
	})

	return conn, srv
}

func newTestNotifier(ctx context.Context, t *testing.T, conn *grpc.ClientConn) *PubSubNotifier {
	t.Helper()

	n, err := New(ctx, &Config{ProjectID: testProjectID, TopicID: testTopicID}, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := n.Shutdown(); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	})
	return n
}

func TestPubSubNotifier_PublishDeliversEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	conn, srv := setupPubSubServer(ctx, t, testProjectID, testTopicID)
	n := newTestNotifier(ctx, t, conn)

	event := control.RunCompletionEvent{
		PipelineType: "repository_sync",
		RunID:        "run-123",
		Status:       "success",
	}
	if err := n.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d published messages, want 1", len(msgs))
	}

	var got control.RunCompletionEvent
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("unmarshal published message: %v", err)
	}
	if got != event {
		t.Errorf("published event = %+v, want %+v", got, event)
	}
	if msgs[0].Attributes["pipeline_type"] != event.PipelineType {
		t.Errorf("attribute pipeline_type = %q, want %q", msgs[0].Attributes["pipeline_type"], event.PipelineType)
	}
}

func TestPubSubNotifier_PublishReturnsErrorOnBrokerFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	conn, _ := setupPubSubServer(ctx, t, testProjectID, testTopicID,
		pstest.WithErrorInjection("Publish", codes.NotFound, "topic not found"))
	n := newTestNotifier(ctx, t, conn)

	err := n.Publish(ctx, control.RunCompletionEvent{PipelineType: "repository_sync", RunID: "run-1", Status: "success"})
	if err == nil {
		t.Fatal("Publish: expected error, got nil")
	}
}

func TestPubSubNotifier_PublishRespectsContextTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	conn, _ := setupPubSubServer(ctx, t, testProjectID, testTopicID,
		pstest.WithErrorInjection("Publish", codes.Unavailable, "server unavailable"))
	n := newTestNotifier(ctx, t, conn)

	timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := n.Publish(timeoutCtx, control.RunCompletionEvent{PipelineType: "repository_sync", RunID: "run-2", Status: "error"}); err == nil {
		t.Fatal("Publish: expected error, got nil")
	}
}
