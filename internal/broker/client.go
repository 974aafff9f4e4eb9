package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
)

const (
	contentType = "application/json;charset=UTF-8"

	returnCodeOK   = 0
	returnCodeAuth = 3
)

// Response is a parsed broker reply. Success or failure is decided by the
// embedded return code, not the HTTP status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ReturnCode int
	ReturnMsg  string
}

// OK reports whether the broker accepted the request.
func (r *Response) OK() bool {
	return r.ReturnCode == returnCodeOK
}

// Message returns the human-readable broker message.
func (r *Response) Message() string {
	if r.ReturnMsg != "" {
		return r.ReturnMsg
	}
	var alt struct {
		Msg1    string `json:"msg1"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &alt); err == nil {
		if alt.Msg1 != "" {
			return alt.Msg1
		}
		if alt.Message != "" {
			return alt.Message
		}
	}
	return "OK"
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// CallFunc performs one broker call with the given access token.
type CallFunc func(ctx context.Context, token string) (*Response, error)

// Tokens is the part of TokenManager the call wrapper depends on.
type Tokens interface {
	AccessToken(ctx context.Context, forceRefresh bool) (string, error)
	Clear()
}

// Client is the only path through which the engine talks to the broker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     Tokens

	// OnReauth is called when an expired token forced a refresh.
	OnReauth func()
}

// NewClient creates a broker client.
func NewClient(baseURL string, httpClient *http.Client, tokens Tokens) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
	}
}

// Do runs call with a valid token. An expired-token outcome clears the cache,
// forces a refresh and retries exactly once; a second expiry returns
// ErrReauthFailed. Other errors are returned unchanged.
func (c *Client) Do(ctx context.Context, call CallFunc) (*Response, error) {
	token, err := c.tokens.AccessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := call(ctx, token)
	if !IsExpired(resp, err) {
		return resp, err
	}

	log.Printf("Broker token invalid or expired, forcing refresh and retrying once")
	c.tokens.Clear()
	token, err = c.tokens.AccessToken(ctx, true)
	if err != nil {
		return nil, err
	}
	if c.OnReauth != nil {
		c.OnReauth()
	}

	resp, err = call(ctx, token)
	if IsExpired(resp, err) {
		return nil, ErrReauthFailed
	}
	return resp, err
}

// Post sends a JSON request for the given api-id through Do.
func (c *Client) Post(ctx context.Context, path, apiID string, body interface{}) (*Response, error) {
	return c.Do(ctx, func(ctx context.Context, token string) (*Response, error) {
		return c.post(ctx, token, path, apiID, body)
	})
}

func (c *Client) post(ctx context.Context, token, path, apiID string, body interface{}) (*Response, error) {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", apiID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", apiID, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("api-id", apiID)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", apiID, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", apiID, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: httpResp.StatusCode, Body: raw}
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: raw}
	var env struct {
		ReturnCode flexInt `json:"return_code"`
		ReturnMsg  string  `json:"return_msg"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", apiID, err)
		}
	}
	resp.ReturnCode = int(env.ReturnCode)
	resp.ReturnMsg = strings.TrimSpace(env.ReturnMsg)
	return resp, nil
}

// flexInt accepts both 0 and "0".
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", string(b))
	}
	*f = flexInt(n)
	return nil
}
