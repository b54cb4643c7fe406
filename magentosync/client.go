package magentosync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// RPCCaller is the narrow surface both remote platforms expose to the sync
// logic. Implementations handle authentication and transport concerns.
type RPCCaller interface {
	Call(ctx context.Context, method string, args any) (json.RawMessage, error)
}

const defaultClientTimeout = 90 * time.Second

// Client is a session-authenticated JSON-RPC client for the commerce API.
// A session is opened lazily on first call and reused until the server
// reports it expired, at which point the client re-logins and retries the
// failed call once.
type Client struct {
	baseURL  string
	login    string
	password string
	http     *http.Client

	mu        sync.Mutex
	sessionID string
	reqID     atomic.Int64
}

// NewClient builds a client from connection settings. All three connection
// fields are required.
func NewClient(baseURL, login, password string) (*Client, error) {
	if baseURL == "" || login == "" || password == "" {
		return nil, fmt.Errorf("%w: api url, login and password are required", ErrConfiguration)
	}
	return &Client{
		baseURL:  baseURL,
		login:    login,
		password: password,
		http:     &http.Client{Timeout: defaultClientTimeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type callParams struct {
	SessionID string `json:"sessionId"`
	Method    string `json:"method"`
	Args      any    `json:"args,omitempty"`
}

// Call invokes an API method within the current session, logging in first if
// needed. A session-expired fault triggers exactly one re-login and retry.
func (c *Client) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	return c.call(ctx, method, args, true)
}

func (c *Client) call(ctx context.Context, method string, args any, canRetry bool) (json.RawMessage, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.post(ctx, "call", callParams{SessionID: session, Method: method, Args: args})
	if err != nil {
		var rpcErr *RPCError
		if canRetry && errors.As(err, &rpcErr) && rpcErr.SessionExpired() {
			c.dropSession(session)
			return c.call(ctx, method, args, false)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}

	result, err := c.post(ctx, "login", map[string]string{
		"username": c.login,
		"apiKey":   c.password,
	})
	if err != nil {
		return "", fmt.Errorf("%w: login failed: %v", ErrAuth, err)
	}
	var session string
	if err := json.Unmarshal(result, &session); err != nil || session == "" {
		return "", fmt.Errorf("%w: login returned no session", ErrAuth)
	}
	c.sessionID = session
	return session, nil
}

// dropSession forgets the session only if it is still the one that failed,
// so a concurrent re-login is not clobbered.
func (c *Client) dropSession(session string) {
	c.mu.Lock()
	if c.sessionID == session {
		c.sessionID = ""
	}
	c.mu.Unlock()
}

// Close ends the server-side session. Errors are swallowed: the session
// expires on its own either way.
func (c *Client) Close() {
	c.mu.Lock()
	session := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if session == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = c.post(ctx, "endSession", map[string]string{"sessionId": session})
}

func (c *Client) post(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID(), Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned http %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

func (c *Client) nextID() int64 {
	return c.reqID.Add(1)
}
