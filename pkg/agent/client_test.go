/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/herdguard/herdguard/pkg/agent"
	"github.com/herdguard/herdguard/pkg/protocol"
)

func TestClientRegisterRoundTrips(t *testing.T) {
	var gotAuth string
	var gotReq protocol.RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(protocol.RegisterResponse{AgentID: "agent-1"})
	}))
	defer srv.Close()

	client := agent.NewClient(srv.URL, "secret-token", nil)
	resp, err := client.Register(context.Background(), protocol.RegisterRequest{
		Hostname:        "host-1",
		CloudInstanceID: "i-0123",
		Type:            "m5.large",
		Region:          "us-east-1",
		AZ:              "us-east-1a",
		CurrentMode:     "test",
		Version:         "1.0.0",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", resp.AgentID)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization header = %q, want Bearer secret-token", gotAuth)
	}
	if gotReq.CloudInstanceID != "i-0123" {
		t.Errorf("CloudInstanceID = %q, want i-0123", gotReq.CloudInstanceID)
	}
}

func TestClientListCommandsDecodesArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]protocol.CommandView{
			{ID: "cmd-1", Kind: "switch", Payload: map[string]any{"target-type": "m5.xlarge"}},
		})
	}))
	defer srv.Close()

	client := agent.NewClient(srv.URL, "token", nil)
	cmds, err := client.ListCommands(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(cmds) != 1 || cmds[0].ID != "cmd-1" {
		t.Errorf("cmds = %+v, want one command with ID cmd-1", cmds)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := agent.NewClient(srv.URL, "bad-token", nil)
	err := client.Heartbeat(context.Background(), "agent-1", protocol.HeartbeatRequest{
		Status: "online", CloudInstanceID: "i-1", CurrentMode: "test", CurrentPoolID: "p1",
	})
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}

func TestClientHeartbeatRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := agent.NewClient(srv.URL, "token", nil)
	err := client.Heartbeat(context.Background(), "agent-1", protocol.HeartbeatRequest{
		Status: "online", CloudInstanceID: "i-1", CurrentMode: "test", CurrentPoolID: "p1",
	})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (two failures then a success)", calls.Load())
	}
}

func TestClientHeartbeatDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := agent.NewClient(srv.URL, "bad-token", nil)
	err := client.Heartbeat(context.Background(), "agent-1", protocol.HeartbeatRequest{
		Status: "online", CloudInstanceID: "i-1", CurrentMode: "test", CurrentPoolID: "p1",
	})
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (a 401 should not be retried)", calls.Load())
	}
}
