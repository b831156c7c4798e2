// Package client talks to a codegraph server over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systemshift/codegraph/internal/api"
	"github.com/systemshift/codegraph/internal/core"
	"github.com/systemshift/codegraph/internal/events"
)

// Client handles communication with the codegraph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Wait blocks on the broker until a command is delivered or the wait ends.
// The HTTP client timeout is stretched past the broker timeout so the
// server, not the transport, decides when the wait is over.
func (c *Client) Wait(ctx context.Context, req api.WaitRequest) (*core.Command, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding wait request: %w", err)
	}
	timeout := time.Duration(req.TimeoutMs)*time.Millisecond + 10*time.Second
	if req.TimeoutMs <= 0 {
		timeout = 310 * time.Second
	}
	waitClient := &http.Client{Timeout: timeout}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/broker/wait", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := waitClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("wait request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var cmd core.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	return &cmd, nil
}

// Send submits a command to the broker.
func (c *Client) Send(in core.CommandInput) (*core.SendResult, error) {
	var result core.SendResult
	if err := c.post("/api/broker/commands", in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PendingCommands lists the broker's queue in delivery order.
func (c *Client) PendingCommands() ([]*core.Command, error) {
	var out struct {
		Commands []*core.Command `json:"commands"`
	}
	if err := c.get("/api/broker/commands", &out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

// WaitingAgents lists agents currently blocked on the broker.
func (c *Client) WaitingAgents() ([]core.WaitingAgent, error) {
	var out struct {
		Agents []core.WaitingAgent `json:"agents"`
	}
	if err := c.get("/api/broker/agents", &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// History fetches the newest broker audit entries.
func (c *Client) History(limit int) ([]core.HistoryEntry, error) {
	var out struct {
		History []core.HistoryEntry `json:"history"`
	}
	path := "/api/broker/history"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	if err := c.get(path, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// CancelWait cancels an agent's active wait.
func (c *Client) CancelWait(agentID string) error {
	return c.delete("/api/broker/agents/" + url.PathEscape(agentID))
}

// CancelCommand cancels a pending command.
func (c *Client) CancelCommand(id string) error {
	return c.delete("/api/broker/commands/" + url.PathEscape(id))
}

// StreamEvents subscribes to the server's SSE stream and invokes fn for each
// event until the context is cancelled or the stream ends.
func (c *Client) StreamEvents(ctx context.Context, names []string, fn func(events.Event)) error {
	endpoint := c.baseURL + "/api/events"
	if len(names) > 0 {
		endpoint += "?names=" + url.QueryEscape(strings.Join(names, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	streamClient := &http.Client{} // no timeout: the stream is long-lived
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("event stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		fn(event)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream closed: %w", err)
	}
	return nil
}

func (c *Client) get(path string, dst interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) post(path string, in, dst interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%s: %s", envelope.Kind, envelope.Error)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}
