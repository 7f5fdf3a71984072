package sudomode

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

	"github.com/rs/zerolog"
)

// Client talks to the governor over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	clock        Clock
	logger       zerolog.Logger
	onState      func(State)
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		pollInterval: DefaultPollInterval,
		clock:        realClock{},
		logger:       zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return c
}

// Check asks the governor once and returns its decision. A DENY is a
// successful answer here, not an error.
func (c *Client) Check(ctx context.Context, resource, action string, args map[string]any) (*Decision, error) {
	if args == nil {
		args = map[string]any{}
	}

	var decision Decision
	err := c.do(ctx, http.MethodPost, "/v1/govern", governRequest{
		Resource: resource,
		Action:   action,
		Args:     args,
	}, &decision)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// Execute checks the action and, if a human has to decide, waits for the
// decision. It returns nil when the action may proceed.
func (c *Client) Execute(ctx context.Context, resource, action string, args map[string]any) error {
	c.setState(StateChecking)

	decision, err := c.Check(ctx, resource, action, args)
	if err != nil {
		c.setState(StateCheckFailed)
		return err
	}

	switch decision.Status {
	case StatusAllow:
		c.setState(StateAllowed)
		return nil

	case StatusDeny:
		c.setState(StateDenied)
		return &DeniedError{Reason: decision.Reason, Rule: decision.Rule}

	case StatusRequireApproval:
		if decision.RequestID == "" {
			c.setState(StateCheckFailed)
			return &TransportError{Err: errors.New("approval required but no request_id returned")}
		}
		c.logger.Info().Str("request_id", decision.RequestID).Dur("poll_interval", c.pollInterval).Msg("action requires approval")
		_, err := c.Wait(ctx, decision.RequestID)
		return err

	default:
		c.setState(StateCheckFailed)
		return &TransportError{Err: fmt.Errorf("unknown decision status %q", decision.Status)}
	}
}

// Wait polls the request until it is resolved, ctx ends, or the lookup
// fails. The server-side request stays PENDING when ctx is cancelled.
func (c *Client) Wait(ctx context.Context, requestID string) (*PendingRequest, error) {
	c.setState(StateWaiting)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Str("request_id", requestID).Msg("stopped waiting for approval")
			c.setState(StateCancelled)
			return nil, ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}

		req, err := c.GetRequest(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateCancelled)
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrRequestNotFound) {
				c.logger.Error().Str("request_id", requestID).Msg("request not found on server")
			}
			c.setState(StateLookupFailed)
			return nil, err
		}

		switch req.Status {
		case RequestApproved:
			c.logger.Info().Str("request_id", requestID).Msg("request approved")
			c.setState(StateApproved)
			return req, nil

		case RequestRejected:
			reason := req.Reason
			if reason == "" {
				reason = "No reason provided"
			}
			c.logger.Warn().Str("request_id", requestID).Str("reason", reason).Msg("request rejected")
			c.setState(StateRejected)
			return req, &RejectedError{RequestID: requestID, Reason: reason}
		}
	}
}

// GetRequest fetches one pending request.
func (c *Client) GetRequest(ctx context.Context, requestID string) (*PendingRequest, error) {
	var req PendingRequest
	if err := c.do(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(requestID), nil, &req); err != nil {
		return nil, c.requestError(requestID, err)
	}
	return &req, nil
}

// ListRequests returns all requests, or only those in status when it is
// non-empty.
func (c *Client) ListRequests(ctx context.Context, status string) ([]PendingRequest, error) {
	path := "/v1/requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

func (c *Client) Approve(ctx context.Context, requestID string) (*PendingRequest, error) {
	return c.resolve(ctx, requestID, "approve")
}

func (c *Client) Reject(ctx context.Context, requestID string) (*PendingRequest, error) {
	return c.resolve(ctx, requestID, "reject")
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) resolve(ctx context.Context, requestID, verb string) (*PendingRequest, error) {
	var resp resolveResponse
	path := "/v1/requests/" + url.PathEscape(requestID) + "/" + verb
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, c.requestError(requestID, err)
	}
	return &resp.Request, nil
}

// requestError turns 404 and 409 replies into their typed errors.
func (c *Client) requestError(requestID string, err error) error {
	var te *TransportError
	if !errors.As(err, &te) {
		return err
	}

	switch te.StatusCode {
	case http.StatusNotFound:
		return &RequestNotFoundError{RequestID: requestID}
	case http.StatusConflict:
		current := ""
		var body errorBody
		if ce, ok := te.Err.(*statusError); ok && json.Unmarshal(ce.body, &body) == nil {
			current = body.CurrentStatus
		}
		return &ConflictError{RequestID: requestID, CurrentStatus: current}
	}
	return err
}

type errorBody struct {
	Error         string `json:"error"`
	CurrentStatus string `json:"current_status"`
}

type statusError struct {
	body []byte
}

func (e *statusError) Error() string {
	var body errorBody
	if json.Unmarshal(e.body, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(e.body))
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{StatusCode: resp.StatusCode, Err: &statusError{body: data}}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *Client) setState(s State) {
	c.logger.Debug().Str("state", string(s)).Msg("client state")
	if c.onState != nil {
		c.onState(s)
	}
}
