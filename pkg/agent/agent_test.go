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

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/herdguard/herdguard/pkg/config"
	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/protocol"
)

type fakeSwitcher struct {
	called   bool
	selected *domain.Candidate
	err      error
}

func (f *fakeSwitcher) Switch(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) error {
	f.called = true
	f.selected = selected
	return f.err
}

func newTestAgent(switcher pipelineSwitcher) *Agent {
	return &Agent{
		cfg:      &config.Agent{InputMode: "test"},
		identity: Identity{Type: "m5.large", AZ: "us-east-1a"},
		switcher: switcher,
	}
}

// pipelineSwitcher aliases the Switch interface agent.go depends on, so this
// test file doesn't need to import pkg/pipeline just for the type name.
type pipelineSwitcher interface {
	Switch(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) error
}

func TestExecuteSwitchCommandUpdatesIdentity(t *testing.T) {
	sw := &fakeSwitcher{}
	a := newTestAgent(sw)

	ok, err := a.execute(context.Background(), protocol.CommandView{
		ID: "cmd-1", Kind: string(domain.CommandSwitch),
		Payload: map[string]any{"target-type": "m5.xlarge", "target-az": "us-east-1b"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !sw.called {
		t.Fatal("expected the switcher to be invoked")
	}
	if a.identity.Type != "m5.xlarge" || a.identity.AZ != "us-east-1b" {
		t.Errorf("identity = %+v, want type=m5.xlarge az=us-east-1b", a.identity)
	}
}

func TestExecuteSwitchCommandPropagatesSwitcherError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	sw := &fakeSwitcher{err: wantErr}
	a := newTestAgent(sw)

	ok, err := a.execute(context.Background(), protocol.CommandView{
		ID: "cmd-1", Kind: string(domain.CommandSwitch),
		Payload: map[string]any{"target-type": "m5.xlarge", "target-az": "us-east-1a"},
	})
	if ok {
		t.Error("expected ok=false on switcher error")
	}
	if err != wantErr {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestExecuteAcknowledgesNonSwitchCommands(t *testing.T) {
	a := newTestAgent(&fakeSwitcher{})
	for _, kind := range []domain.CommandKind{
		domain.CommandApplyConfig, domain.CommandPromoteReplica,
		domain.CommandCreateReplica, domain.CommandShutdown,
	} {
		ok, err := a.execute(context.Background(), protocol.CommandView{ID: "cmd-1", Kind: string(kind)})
		if err != nil || !ok {
			t.Errorf("execute(%s) = %v, %v; want true, nil", kind, ok, err)
		}
	}
}

func TestExecuteRejectsUnknownCommandKind(t *testing.T) {
	a := newTestAgent(&fakeSwitcher{})
	ok, err := a.execute(context.Background(), protocol.CommandView{ID: "cmd-1", Kind: "reboot"})
	if ok || err == nil {
		t.Errorf("execute(unknown) = %v, %v; want false, error", ok, err)
	}
}

func TestPoolIDFallsBackToEmptyOnInvalidPair(t *testing.T) {
	a := newTestAgent(&fakeSwitcher{})
	if got := a.poolID("", ""); got != "" {
		t.Errorf("poolID(\"\", \"\") = %q, want empty", got)
	}
}

type fakeSignalProvider struct {
	signal domain.AWSSignal
}

func (f *fakeSignalProvider) Poll(ctx context.Context) domain.AWSSignal { return f.signal }

func TestReportSignalOnceReportsRebalance(t *testing.T) {
	var gotPath string
	var gotReq protocol.RebalanceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &Agent{
		cfg:      &config.Agent{InputMode: "k8s"},
		identity: Identity{CloudInstanceID: "i-123", Type: "m5.large", AZ: "us-east-1a"},
		client:   NewClient(srv.URL, "token", srv.Client()),
		signals:  &fakeSignalProvider{signal: domain.SignalRebalance},
	}
	a.agentID = "agent-1"
	a.currentPoolID = "us-east-1a:m5.large"

	a.reportSignalOnce(context.Background())

	if gotPath != "/agents/agent-1/rebalance" {
		t.Errorf("path = %q, want /agents/agent-1/rebalance", gotPath)
	}
	if gotReq.CloudInstanceID != "i-123" || gotReq.PoolID != "us-east-1a:m5.large" {
		t.Errorf("request = %+v, want CloudInstanceID=i-123 PoolID=us-east-1a:m5.large", gotReq)
	}
}

func TestReportSignalOnceReportsTermination(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &Agent{
		cfg:      &config.Agent{InputMode: "k8s"},
		identity: Identity{CloudInstanceID: "i-456"},
		client:   NewClient(srv.URL, "token", srv.Client()),
		signals:  &fakeSignalProvider{signal: domain.SignalTermination},
	}
	a.agentID = "agent-2"

	a.reportSignalOnce(context.Background())

	if gotPath != "/agents/agent-2/termination" {
		t.Errorf("path = %q, want /agents/agent-2/termination", gotPath)
	}
}

func TestReportSignalOnceNoneReportsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &Agent{
		cfg:     &config.Agent{InputMode: "k8s"},
		client:  NewClient(srv.URL, "token", srv.Client()),
		signals: &fakeSignalProvider{signal: domain.SignalNone},
	}
	a.agentID = "agent-3"

	a.reportSignalOnce(context.Background())

	if called {
		t.Error("expected no HTTP call for SignalNone")
	}
}

func TestReportSignalOnceSkipsBeforeRegistration(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &Agent{
		cfg:     &config.Agent{InputMode: "k8s"},
		client:  NewClient(srv.URL, "token", srv.Client()),
		signals: &fakeSignalProvider{signal: domain.SignalTermination},
	}

	a.reportSignalOnce(context.Background())

	if called {
		t.Error("expected no HTTP call before agentID is assigned")
	}
}
