package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// MessageBody is the Graph chatMessage body.
type MessageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// MessagePayload is sent to the Graph messages endpoints.
type MessagePayload struct {
	Subject string      `json:"subject,omitempty"`
	Body    MessageBody `json:"body"`
}

// GraphClient issues authenticated Graph calls and normalizes responses.
type GraphClient struct {
	http *http.Client
	base string
}

func NewGraphClient(hc *http.Client, base string) *GraphClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultGraphBaseURL
	}
	return &GraphClient{http: hc, base: base}
}

// MessagesURL is the send endpoint for t.
func (c *GraphClient) MessagesURL(t Target) string { return c.base + t.messagesPath() }

// ResourceURL is the existence-check endpoint for t.
func (c *GraphClient) ResourceURL(t Target) string { return c.base + t.resourcePath() }

func (c *GraphClient) PostMessage(ctx context.Context, uri, token string, payload MessagePayload) (map[string]any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token)
}

func (c *GraphClient) GetResource(ctx context.Context, uri, token string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	return c.do(req, token)
}

func (c *GraphClient) do(req *http.Request, token string) (map[string]any, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Message: "request failed: " + err.Error(), Status: http.StatusBadGateway}
	}
	defer resp.Body.Close()
	return normalize(resp)
}

// normalize parses the body leniently and turns non-2xx responses into *APIError.
// A malformed body is treated as an empty object.
func normalize(resp *http.Response) (map[string]any, error) {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	body := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed != nil {
			body = parsed
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, nil
	}
	return nil, &APIError{
		Message:    errorMessage(body, resp.StatusCode),
		Status:     resp.StatusCode,
		RetryAfter: retryAfter(resp.Header),
	}
}

func errorMessage(body map[string]any, status int) string {
	if e, ok := body["error"].(map[string]any); ok {
		if m, ok := e["message"].(string); ok && m != "" {
			return m
		}
	}
	if m, ok := body["message"].(string); ok && m != "" {
		return m
	}
	return http.StatusText(status)
}

func retryAfter(h http.Header) *int {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func escape(s string) string { return url.PathEscape(strings.TrimSpace(s)) }
