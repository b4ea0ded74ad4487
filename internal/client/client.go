// Package client is a small HTTP client for the bulletin API, used by
// bulletinctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/types"
)

// maxResponseBody bounds how much of a response the client will read.
const maxResponseBody = 1 << 20

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bulletin: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("bulletin: %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL.  A nil httpClient gets a
// 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Issue asks the server to generate and deliver a code.
func (c *Client) Issue(ctx context.Context) (types.IssueResponse, error) {
	var out types.IssueResponse
	body, err := c.doRequest(ctx, http.MethodPost, "/api/generate-code", "", nil)
	if err != nil {
		return out, err
	}
	return out, decode(body, &out)
}

// Verify submits a code.  A denial is returned as a response with
// Success=false, not as an error.
func (c *Client) Verify(ctx context.Context, sessionID, code string) (types.VerifyResponse, error) {
	var out types.VerifyResponse
	body, err := c.doRequest(ctx, http.MethodPost, "/api/verify-code", "",
		types.VerifyRequest{SessionID: sessionID, Code: code})
	if err != nil {
		if IsUnauthorized(err) && body != nil {
			return out, decode(body, &out)
		}
		return out, err
	}
	return out, decode(body, &out)
}

// Logout closes the session behind token.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/logout", token, nil)
	return err
}

func (c *Client) Announcements(ctx context.Context, token string) ([]types.Announcement, error) {
	var out types.ListResponse
	body, err := c.doRequest(ctx, http.MethodGet, "/api/announcements", token, nil)
	if err != nil {
		return nil, err
	}
	if err := decode(body, &out); err != nil {
		return nil, err
	}
	return out.Announcements, nil
}

func (c *Client) Announce(ctx context.Context, token string, req types.PublishRequest) (types.Announcement, error) {
	var out types.PublishResponse
	body, err := c.doRequest(ctx, http.MethodPost, "/api/send-announcement", token, req)
	if err != nil {
		return types.Announcement{}, err
	}
	if err := decode(body, &out); err != nil {
		return types.Announcement{}, err
	}
	return out.Announcement, nil
}

// Probe reports whether the server is up and has a webhook configured.
func (c *Client) Probe(ctx context.Context) (types.ProbeResponse, error) {
	var out types.ProbeResponse
	body, err := c.doRequest(ctx, http.MethodGet, "/api/test", "", nil)
	if err != nil {
		return out, err
	}
	return out, decode(body, &out)
}

// doRequest performs a request and returns the response body.  On a non-2xx
// status it returns the body together with an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path, token string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("bulletin: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bulletin: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulletin: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("bulletin: read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var eb struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if jsonErr := json.Unmarshal(body, &eb); jsonErr != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return body, apiErr
	}
	apiErr.Code = eb.Code
	apiErr.Message = eb.Error
	if apiErr.Message == "" {
		apiErr.Message = eb.Message
	}
	return body, apiErr
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("bulletin: decode response: %w", err)
	}
	return nil
}
