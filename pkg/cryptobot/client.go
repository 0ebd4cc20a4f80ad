// Package cryptobot is a Go client for the cryptobot-server HTTP API.
package cryptobot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cryptobot: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the cryptobot-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new cryptobot API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// RunBacktest executes one backtest and returns the stored run.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunBatch executes reqs concurrently on the server. Results are in request
// order; individual failures are reported per result.
func (c *Client) RunBatch(ctx context.Context, reqs []BacktestRequest) ([]BatchResult, error) {
	var out struct {
		Results []BatchResult `json:"results"`
	}
	body := struct {
		Requests []BacktestRequest `json:"requests"`
	}{reqs}
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests/batch", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetRun retrieves a run with its trades.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first, without trades. limit <= 0
// uses the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	path := "/api/v1/backtests"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Strategies lists the strategy kinds the server supports.
func (c *Client) Strategies(ctx context.Context) ([]Strategy, error) {
	var out struct {
		Strategies []Strategy `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// TradesCSV downloads the trade export of a run.
func (c *Client) TradesCSV(ctx context.Context, id string) ([]byte, error) {
	return c.raw(ctx, "/api/v1/backtests/"+url.PathEscape(id)+"/trades.csv")
}

// Chart downloads the equity chart PNG of a run.
func (c *Client) Chart(ctx context.Context, id string) ([]byte, error) {
	return c.raw(ctx, "/api/v1/backtests/"+url.PathEscape(id)+"/chart.png")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}
