package main

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
)

// apiClient is a thin wrapper over the daemon HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(addr, token string) *apiClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// do issues a request and decodes the JSON response into out when the
// daemon returns a body. The HTTP status code is always returned so
// callers can branch on intent-specific codes like 204 or 503.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("is the daemon running at %s? %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("daemon: %s", apiErr.Error)
		}
		// Degraded-state responses carry a full JSON document instead
		// of an error payload.
		if out != nil && len(data) > 0 && json.Unmarshal(data, out) == nil {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) submit(ctx context.Context, req intakeRequest) (intakeResult, int, error) {
	var result intakeResult
	code, err := c.do(ctx, http.MethodPost, "/intake", nil, req, &result)
	return result, code, err
}

func (c *apiClient) status(ctx context.Context) (daemonStatus, error) {
	var status daemonStatus
	_, err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &status)
	return status, err
}

func (c *apiClient) jobs(ctx context.Context, status, jobType string, limit int) ([]jobDocument, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if jobType != "" {
		query.Set("job_type", jobType)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var resp jobListDocument
	_, err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, &resp)
	return resp.Jobs, err
}

func (c *apiClient) job(ctx context.Context, id string) (jobDetailDocument, error) {
	var detail jobDetailDocument
	_, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &detail)
	return detail, err
}

func (c *apiClient) work(ctx context.Context, stage string, batchSize int) (workersDocument, int, error) {
	var body any
	if batchSize > 0 {
		body = workersRequest{BatchSize: batchSize}
	}
	var accepted workersDocument
	code, err := c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(stage), nil, body, &accepted)
	return accepted, code, err
}

func (c *apiClient) rescue(ctx context.Context, req rescueRequest) (rescueSummary, error) {
	var summary rescueSummary
	_, err := c.do(ctx, http.MethodPost, "/bulk-rescue", nil, req, &summary)
	return summary, err
}

func (c *apiClient) healthcheck(ctx context.Context, query url.Values) (healthDocument, int, error) {
	var doc healthDocument
	code, err := c.do(ctx, http.MethodGet, "/healthcheck", query, nil, &doc)
	return doc, code, err
}

func (c *apiClient) orchestrate(ctx context.Context, req orchestrateRequest) (runSummary, error) {
	var summary runSummary
	_, err := c.do(ctx, http.MethodPost, "/orchestrator", nil, req, &summary)
	return summary, err
}
