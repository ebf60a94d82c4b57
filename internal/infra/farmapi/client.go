// Package farmapi is the HTTP client for the render farm's task API. It
// implements domain.StatusOracle.
//
// Endpoints:
//
//	POST {endpoint}/api/render/task/status   {"task_ids": [...]}
//	GET  {endpoint}/api/render/task/{id}/end
//
// Every response is a {"code", "message", "data"} envelope; code 200 means
// success.
package farmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// Config configures the client.
type Config struct {
	Endpoint string        `toml:"endpoint"`
	Token    string        `toml:"token"`
	Timeout  time.Duration `toml:"-"`
}

// Client queries task status over HTTP.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// New creates a client. A zero Timeout means 30 seconds.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &domain.ConfigError{Field: "farm.endpoint", Value: cfg.Endpoint}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// envelope is the farm's response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// TaskStatus fetches the status of every id in one request. Ids the farm
// does not know are absent from the result.
func (c *Client) TaskStatus(ctx context.Context, ids []domain.TaskID) (map[domain.TaskID]domain.TaskStatus, error) {
	body, err := json.Marshal(map[string]any{"task_ids": ids})
	if err != nil {
		return nil, err
	}

	var list []domain.TaskStatus
	if err := c.call(ctx, http.MethodPost, "/api/render/task/status", body, &list); err != nil {
		return nil, &domain.StatusQueryError{IDs: ids, Err: err}
	}

	out := make(map[domain.TaskID]domain.TaskStatus, len(list))
	for _, st := range list {
		out[st.ID] = st
	}
	return out, nil
}

// IsTaskEnd asks whether the farm finished the task.
func (c *Client) IsTaskEnd(ctx context.Context, id domain.TaskID) (bool, error) {
	var data struct {
		End bool `json:"end"`
	}
	path := "/api/render/task/" + url.PathEscape(string(id)) + "/end"
	if err := c.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return false, &domain.StatusQueryError{IDs: []domain.TaskID{id}, Err: err}
	}
	return data.End, nil
}

// call performs one request and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("farm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read farm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("farm error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode farm response: %w", err)
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("farm error code %d: %s", env.Code, env.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode farm data: %w", err)
	}
	return nil
}
