package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/workflow"
)

// Client forwards desk commands to the training desk that owns the database.
// It signs a short-lived token for each actor, so both processes must share
// the token secret.
type Client struct {
	baseURL string
	tokens  *auth.Tokens
	http    *http.Client
}

var _ workflow.Desk = (*Client)(nil)

func NewClient(baseURL string, tokens *auth.Tokens) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SubmitStandard(ctx context.Context, actor auth.Actor, cmd workflow.SubmitStandard) (*workflow.SubmitResult, error) {
	var res workflow.SubmitResult
	if err := c.do(ctx, actor, http.MethodPost, "/api/trainings/standard", cmd, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SubmitElevated(ctx context.Context, actor auth.Actor, cmd workflow.SubmitElevated) (*workflow.SubmitResult, error) {
	var res workflow.SubmitResult
	if err := c.do(ctx, actor, http.MethodPost, "/api/trainings/elevated", cmd, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Accept(ctx context.Context, actor auth.Actor, cmd workflow.Accept) (*workflow.AcceptResult, error) {
	var res workflow.AcceptResult
	path := "/api/trainings/" + url.PathEscape(cmd.ID) + "/accept"
	if err := c.do(ctx, actor, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) LogResult(ctx context.Context, actor auth.Actor, cmd workflow.LogResult) (*workflow.ResultLogged, error) {
	var res workflow.ResultLogged
	if err := c.do(ctx, actor, http.MethodPost, "/api/results", cmd, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Get(ctx context.Context, actor auth.Actor, id string) (*db.Request, error) {
	var rec db.Request
	if err := c.do(ctx, actor, http.MethodGet, "/api/trainings/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) List(ctx context.Context, actor auth.Actor, q workflow.ListQuery) ([]db.Request, error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Category != "" {
		v.Set("category", string(q.Category))
	}
	if q.SubmitterID != "" {
		v.Set("submitter_id", q.SubmitterID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/trainings"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var requests []db.Request
	if err := c.do(ctx, actor, http.MethodGet, path, nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (c *Client) do(ctx context.Context, actor auth.Actor, method, path string, body, out interface{}) error {
	token, err := c.tokens.Issue(actor, time.Minute)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach primary desk: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Code == "" {
			return fmt.Errorf("primary desk returned status %d", resp.StatusCode)
		}
		var retry time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			retry = time.Duration(secs) * time.Second
		}
		if resp.StatusCode == http.StatusInternalServerError {
			return fmt.Errorf("primary desk: %s (%s)", eb.Message, eb.Code)
		}
		return workflow.RejectionFromCode(eb.Code, eb.Message, retry)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
