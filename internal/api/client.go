package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"research-dashboard/internal/domain"
)

const (
	endpointResearch = "/api/research"
	endpointStatus   = "/api/research/status/"
	endpointResult   = "/api/research/result/"
	endpointHistory  = "/api/research/history"
	endpointRAGQuery = "/api/rag/query"
	endpointAuth     = "/api/auth/token"

	resultFetchAttempts = 3
)

// TokenFunc supplies the current session bearer token, or empty when
// no session is active.
type TokenFunc func() string

// Client talks to the research backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
}

// NewClient builds a backend client for the given base URL.
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
	}
}

// NewClientForTests builds a client with an injectable HTTP client.
func NewClientForTests(baseURL string, httpClient *http.Client, token TokenFunc) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
	}
}

// SubmitRequest is the research query form payload.
type SubmitRequest struct {
	Query          string   `json:"query"`
	SearchTags     []string `json:"searchTags,omitempty"`
	TrustedSources []string `json:"trustedSources,omitempty"`
	UploadToRAG    bool     `json:"uploadToRag"`
}

// SubmitResponse identifies the accepted research job.
type SubmitResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	ResultURL string `json:"result_url"`
}

// SubmitResearch submits a new research job and returns its identity.
func (c *Client) SubmitResearch(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	body := struct {
		Query       string `json:"query"`
		UploadToRAG bool   `json:"upload_to_rag"`
	}{
		Query:       ComposeQuery(req),
		UploadToRAG: req.UploadToRAG,
	}

	var resp SubmitResponse
	if err := c.postJSON(ctx, endpointResearch, body, &resp); err != nil {
		return SubmitResponse{}, err
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return SubmitResponse{}, &Error{
			Endpoint: endpointResearch,
			Message:  "backend accepted the job but returned no job id",
		}
	}
	return resp, nil
}

// JobStatus fetches the current status payload for a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (domain.StatusEvent, error) {
	var event domain.StatusEvent
	if err := c.getJSON(ctx, endpointStatus+url.PathEscape(jobID), &event); err != nil {
		return domain.StatusEvent{}, err
	}
	if event.JobID == "" {
		event.JobID = jobID
	}
	return event, nil
}

// JobResult fetches the completed research deliverable.
//
// A 202 or 404 means the backend has not written the result yet and is
// reported as ErrResultNotReady without retrying. Other failures are
// retried a bounded number of times.
func (c *Client) JobResult(ctx context.Context, jobID string) (domain.JobResult, error) {
	endpoint := endpointResult + url.PathEscape(jobID)

	var lastErr error
	for attempt := 0; attempt < resultFetchAttempts; attempt++ {
		var result domain.JobResult
		err := c.getJSON(ctx, endpoint, &result)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrResultNotReady) || ctx.Err() != nil {
			return domain.JobResult{}, err
		}
		lastErr = err
	}
	return domain.JobResult{}, lastErr
}

// ReadinessInfo fetches the knowledge-base readiness state for a job.
func (c *Client) ReadinessInfo(ctx context.Context, jobID string) (domain.ReadinessInfo, error) {
	var info domain.ReadinessInfo
	endpoint := endpointResearch + "/" + url.PathEscape(jobID) + "/rag"
	if err := c.getJSON(ctx, endpoint, &info); err != nil {
		return domain.ReadinessInfo{}, err
	}
	if info.JobID == "" {
		info.JobID = jobID
	}
	return info, nil
}

// QueryAssistant sends a chat question against an indexed collection.
//
// The answer payload shape varies between backend versions, so the raw
// body is returned for normalization by the chat layer.
func (c *Client) QueryAssistant(ctx context.Context, collectionName, question string) (json.RawMessage, error) {
	body := struct {
		CollectionName string `json:"collection_name"`
		Question       string `json:"question"`
	}{
		CollectionName: collectionName,
		Question:       question,
	}

	var raw json.RawMessage
	if err := c.postJSON(ctx, endpointRAGQuery, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// JobHistory lists past research jobs for the authenticated user.
func (c *Client) JobHistory(ctx context.Context) ([]domain.JobSummary, error) {
	var resp struct {
		Jobs []domain.JobSummary `json:"jobs"`
	}
	if err := c.getJSON(ctx, endpointHistory, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpointAuth,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Endpoint: endpointAuth, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &Error{Endpoint: endpointAuth, Message: "backend returned no access token"}
	}
	return resp.AccessToken, nil
}

// getJSON issues an authenticated GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "build request", Err: err}
	}
	return c.do(req, out)
}

// postJSON issues an authenticated JSON POST and decodes the response.
func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		bytes.NewReader(encoded))
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes a request, maps error statuses, and decodes the body.
func (c *Client) do(req *http.Request, out any) error {
	endpoint := req.URL.Path
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	notReadyStatus := resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNotFound
	if notReadyStatus && strings.HasPrefix(endpoint, endpointResult) {
		return &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "result not ready",
			Err:        ErrResultNotReady,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorDetail(resp.Body, resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Endpoint: endpoint, Message: "decode response", Err: err}
	}
	return nil
}

// errorDetail pulls the backend's detail field out of an error body.
func errorDetail(body io.Reader, status int) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return fmt.Sprintf("backend returned %s", http.StatusText(status))
}
