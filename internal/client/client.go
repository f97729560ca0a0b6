package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pausarr/pausarr/internal/models"
)

// Client drives a running pausarr daemon over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type lifecycleResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Status fetches the monitor status.
func (c *Client) Status(ctx context.Context) (*models.StatusReport, error) {
	res := &models.StatusReport{}
	if err := c.do(ctx, http.MethodGet, "/api/status", res); err != nil {
		return nil, err
	}
	return res, nil
}

// Start starts the monitor loop.
func (c *Client) Start(ctx context.Context) error {
	return c.lifecycle(ctx, "/api/monitor/start")
}

// Stop stops the monitor loop.
func (c *Client) Stop(ctx context.Context) error {
	return c.lifecycle(ctx, "/api/monitor/stop")
}

// Check runs one check cycle and returns the resulting status.
func (c *Client) Check(ctx context.Context) (*models.StatusReport, error) {
	res := &models.StatusReport{}
	if err := c.do(ctx, http.MethodPost, "/api/monitor/check", res); err != nil {
		return nil, err
	}
	return res, nil
}

// PauseAll pauses every enabled managed container.
func (c *Client) PauseAll(ctx context.Context) (*models.BatchResult, error) {
	res := &models.BatchResult{}
	if err := c.do(ctx, http.MethodPost, "/api/monitor/pause-all", res); err != nil {
		return nil, err
	}
	return res, nil
}

// UnpauseAll unpauses every enabled managed container.
func (c *Client) UnpauseAll(ctx context.Context) (*models.BatchResult, error) {
	res := &models.BatchResult{}
	if err := c.do(ctx, http.MethodPost, "/api/monitor/unpause-all", res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) lifecycle(ctx context.Context, path string) error {
	res := &lifecycleResponse{}
	if err := c.do(ctx, http.MethodPost, path, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("pausarr refused: %s", res.Error)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("pausarr returned %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("pausarr returned %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
