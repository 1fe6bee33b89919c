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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestSchedulerServeCommand_RunUnstarted(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(t.Context(), logging.TestLogger(t))
	dbPath := seedDB(t)

	cases := []struct {
		name   string
		env    map[string]string
		expErr string
	}{
		{
			name:   "invalid_config",
			env:    map[string]string{"DB_PATH": dbPath},
			expErr: "one of GITHUB_TOKENS or GITHUB_APP_ID",
		},
		{
			name: "happy_path",
			env:  map[string]string{"DB_PATH": dbPath, "GITHUB_TOKENS": "test-token", "PORT": "0"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var cmd SchedulerServeCommand
			cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(tc.env).Lookup)}

			server, mux, sched, rc, err := cmd.RunUnstarted(ctx, nil)
			if rc != nil {
				defer func() { _ = rc.Close() }()
			}

			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
			if tc.expErr != "" {
				return
			}
			if server == nil || mux == nil || sched == nil {
				t.Fatal("expected non-nil server, mux, and scheduler")
			}

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected /healthz to return 200, got %d", rec.Code)
			}
		})
	}
}

func TestSchedulerServeCommand_Run_stopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(t.Context(), logging.TestLogger(t))
	dbPath := seedDB(t)

	env := map[string]string{"DB_PATH": dbPath, "GITHUB_TOKENS": "test-token", "PORT": "0"}

	var cmd SchedulerServeCommand
	cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(env).Lookup)}

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Run(runCtx, nil)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler serve did not stop after context cancellation")
	}
}
