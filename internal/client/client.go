// ABOUTME: HTTP client for the nexcart gateway API
// ABOUTME: Shared request plumbing, envelope decoding and error mapping

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds every non-streaming request.
const DefaultTimeout = 35 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4 << 10

var (
	// ErrNoSession is returned by visitor calls made before StartSession.
	ErrNoSession = errors.New("no visitor session")
	// ErrNotLoggedIn is returned by agent calls made before Login or SetAgentToken.
	ErrNotLoggedIn = errors.New("not logged in as a support agent")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Message)
}

// Client talks to one gateway. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger

	// reconnectDelay is the pause before a dropped mirror stream reconnects.
	reconnectDelay time.Duration

	mu         sync.RWMutex
	session    *Session
	agentToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for both plain and streaming calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.stream = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		http:           &http.Client{Timeout: DefaultTimeout},
		stream:         &http.Client{},
		logger:         slog.Default(),
		reconnectDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type messageData struct {
	Message string `json:"message"`
}

// rejection is a {success:false} answer from a widget endpoint.
type rejection struct {
	status  int
	message string
}

func (r *rejection) Error() string { return r.message }

// newRequest builds a request with an optional JSON body.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// callEnvelope performs a widget endpoint call and decodes data into out.
// A {success:false} answer becomes a *rejection.
func (c *Client) callEnvelope(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decoding response: %w", err)
	}

	if !env.Success {
		var m messageData
		_ = json.Unmarshal(env.Data, &m)
		if m.Message == "" {
			if resp.StatusCode != http.StatusOK {
				return &StatusError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
			m.Message = "request failed"
		}
		return &rejection{status: resp.StatusCode, message: m.Message}
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}

// callJSON performs an agent endpoint call with the bearer token and decodes
// the body into out.
func (c *Client) callJSON(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorResponse extracts the message from a {"error": ...} body when there is one.
func errorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &StatusError{Status: resp.StatusCode, Message: errResp.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.agentToken == "" {
		return "", ErrNotLoggedIn
	}
	return c.agentToken, nil
}

// SetAgentToken uses token for agent calls.
func (c *Client) SetAgentToken(token string) {
	c.mu.Lock()
	c.agentToken = token
	c.mu.Unlock()
}
