// Package provider is the HTTP client for the simpatient provider API. It
// implements the case, response and scoring providers used by the interview
// and evaluation packages.
package provider

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

	"github.com/pavelanni/simpatient/internal/model"
)

// IdempotencyHeader carries the session token on evaluation requests.
const IdempotencyHeader = "Idempotency-Key"

// Client talks to a simpatient server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type historyResponse struct {
	SessionID string       `json:"session_id"`
	Messages  []model.Turn `json:"messages"`
}

// ListCases returns the case catalogue.
func (c *Client) ListCases(ctx context.Context) ([]model.Case, error) {
	var cases []model.Case
	if err := c.do(ctx, "list cases", http.MethodGet, "/api/cases/", nil, nil, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// GetCase returns one case. An unknown id yields an error matching
// model.ErrCaseNotFound.
func (c *Client) GetCase(ctx context.Context, id string) (model.Case, error) {
	var cs model.Case
	err := c.do(ctx, "get case", http.MethodGet, "/api/cases/"+url.PathEscape(id), nil, nil, &cs)
	var pe *model.ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
		return model.Case{}, fmt.Errorf("case %q: %w", id, model.ErrCaseNotFound)
	}
	if err != nil {
		return model.Case{}, err
	}
	return cs, nil
}

// Respond sends a learner message and returns the patient's reply.
func (c *Client) Respond(ctx context.Context, sessionID, caseID, message string) (string, error) {
	req := model.ChatRequest{SessionID: sessionID, CaseID: caseID, Message: message}
	var resp model.ChatResponse
	if err := c.do(ctx, "respond", http.MethodPost, "/api/chat/", req, nil, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// EndSession asks the server to drop its conversation memory for a session.
func (c *Client) EndSession(ctx context.Context, sessionID, caseID string) error {
	q := url.Values{"session_id": {sessionID}, "case_id": {caseID}}
	return c.do(ctx, "end session", http.MethodPost, "/api/chat/end-session?"+q.Encode(), nil, nil, nil)
}

// History returns the server's view of a session's conversation.
func (c *Client) History(ctx context.Context, sessionID string) ([]model.Turn, error) {
	var resp historyResponse
	if err := c.do(ctx, "history", http.MethodGet, "/api/chat/history/"+url.PathEscape(sessionID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Evaluate submits a transcript for scoring. The session id doubles as the
// idempotency key.
func (c *Client) Evaluate(ctx context.Context, sessionID, caseID string, turns []model.Turn) (*model.EvaluationResult, error) {
	req := model.EvaluationRequest{SessionID: sessionID, CaseID: caseID, Messages: turns}
	hdr := http.Header{IdempotencyHeader: {sessionID}}
	var res model.EvaluationResult
	if err := c.do(ctx, "evaluate", http.MethodPost, "/api/evaluate/", req, hdr, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var body map[string]string
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil, &body); err != nil {
		return err
	}
	if body["status"] != "healthy" {
		return &model.ProviderError{Op: "health", Detail: "unexpected status " + body["status"]}
	}
	return nil
}

// do performs a JSON request. Failures come back as *model.ProviderError.
func (c *Client) do(ctx context.Context, op, method, path string, in any, hdr http.Header, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &model.ProviderError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &model.ProviderError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &model.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &model.ProviderError{Op: op, StatusCode: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Detail != "" {
			pe.Detail = errResp.Detail
		} else {
			pe.Err = errors.New(strings.TrimSpace(string(respBody)))
		}
		return pe
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &model.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}
