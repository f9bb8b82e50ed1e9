package httpclient

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

	"github.com/ifuryst/murmur/internal/errs"
)

// Client is a JSON-over-HTTP client for third-party APIs. Failures are
// classified so the queue can tell retryable from permanent.
type Client struct {
	Service  string
	BaseURL  string
	HTTP     *http.Client
	Header   http.Header
}

func New(service, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		Service:  service,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: timeout},
		Header:   make(http.Header),
	}
}

// Request describes one API call. Body is JSON encoded unless Form is set.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	Body   any
	Header http.Header
}

// Response carries the headers of a successful call.
type Response struct {
	Status int
	Header http.Header
}

// Do sends req and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) (*Response, error) {
	u := c.BaseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errs.Permanent(fmt.Errorf("failed to encode %s request: %w", c.Service, err))
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errs.Permanent(fmt.Errorf("failed to build %s request: %w", c.Service, err))
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, errs.Transient(c.Service+" request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transient(c.Service+" response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ClassifyStatus(c.Service, resp.StatusCode, data)
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, errs.Permanent(fmt.Errorf("failed to decode %s response: %w", c.Service, err))
		}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header}, nil
}

// ClassifyStatus maps a non-2xx response to a transient (429, 5xx) or
// permanent error carrying the API message.
func ClassifyStatus(service string, status int, body []byte) error {
	err := fmt.Errorf("%s API error (status %d): %s", service, status, apiMessage(body))
	if status == http.StatusTooManyRequests || status >= 500 {
		return errs.Transient(service, err)
	}
	return errs.Permanent(err)
}

func apiMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
		Message string          `json:"message"`
		Title   string          `json:"title"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(payload.Error) > 0 {
			if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(payload.Error, &s) == nil && s != "" {
				return s
			}
		}
		for _, m := range []string{payload.Detail, payload.Message, payload.Title} {
			if m != "" {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}
