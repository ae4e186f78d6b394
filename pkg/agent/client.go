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

// Package agent implements the per-instance Agent process (§4.5): it
// registers with the Server, then runs independent heartbeat, command-poll,
// signal-poll, and pricing-report loops against it, executing commands
// through the decision pipeline's actuator.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/protocol"
)

// heartbeatRetryAttempts/heartbeatRetryDelay bound a single heartbeat
// call's own retry budget, distinct from the agent's own next heartbeat
// tick: a heartbeat that fails to even land shouldn't wait a full
// HeartbeatInterval before the Server hears from the agent again.
const (
	heartbeatRetryAttempts = 3
	heartbeatRetryDelay    = 2 * time.Second
)

// Client is the Agent's HTTP client for the Server RPC surface of §4.5/§6.1.
type Client struct {
	baseURL    string
	clientToken string
	httpClient *http.Client
}

// NewClient builds a Client against serverURL, authenticating every request
// with clientToken as a bearer token.
func NewClient(serverURL, clientToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: serverURL, clientToken: clientToken, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.clientToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err, "method", method, "path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errorkind.New(errorkind.TransientUpstream, "server error %d calling %s", resp.StatusCode, path)
	}
	if resp.StatusCode >= 400 {
		return errorkind.New(errorkind.Validation, "request rejected with %d calling %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// Register implements POST /agents/register.
func (c *Client) Register(ctx context.Context, req protocol.RegisterRequest) (protocol.RegisterResponse, error) {
	var resp protocol.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/agents/register", req, &resp)
	return resp, err
}

// Heartbeat implements POST /agents/{id}/heartbeat, retrying a transient
// failure a bounded number of times within the call rather than waiting
// for the next scheduled heartbeat tick.
func (c *Client) Heartbeat(ctx context.Context, agentID string, req protocol.HeartbeatRequest) error {
	return retry.Do(
		func() error {
			err := c.do(ctx, http.MethodPost, "/agents/"+agentID+"/heartbeat", req, nil)
			if err != nil && !errorkind.Retriable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(heartbeatRetryAttempts),
		retry.Delay(heartbeatRetryDelay),
		retry.DelayType(retry.FixedDelay),
	)
}

// PricingReport implements POST /agents/{id}/pricing-report.
func (c *Client) PricingReport(ctx context.Context, agentID string, req protocol.PricingReportRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/"+agentID+"/pricing-report", req, nil)
}

// ListCommands implements GET /agents/{id}/commands.
func (c *Client) ListCommands(ctx context.Context, agentID string) ([]protocol.CommandView, error) {
	var cmds []protocol.CommandView
	err := c.do(ctx, http.MethodGet, "/agents/"+agentID+"/commands", nil, &cmds)
	return cmds, err
}

// Executed implements POST /agents/{id}/commands/{cmd}/executed.
func (c *Client) Executed(ctx context.Context, agentID, commandID string, req protocol.ExecutedRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/"+agentID+"/commands/"+commandID+"/executed", req, nil)
}

// Rebalance implements POST /agents/{id}/rebalance.
func (c *Client) Rebalance(ctx context.Context, agentID string, req protocol.RebalanceRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/"+agentID+"/rebalance", req, nil)
}

// Termination implements POST /agents/{id}/termination.
func (c *Client) Termination(ctx context.Context, agentID string, req protocol.TerminationRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/"+agentID+"/termination", req, nil)
}
