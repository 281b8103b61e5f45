// Package transport issues HTTP requests for the node-manager client and
// exposes status, body text and headers of the responses. Redirects are never
// followed so Location headers on 202 and 200 replies stay visible.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/metrics"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes caps how much of a response body is buffered.
const maxBodyBytes = 8 << 20

// Request describes a single outgoing request.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	ContentType string
}

// NewGet builds a GET request for rawURL.
func NewGet(rawURL string) Request {
	return Request{Method: http.MethodGet, URL: rawURL}
}

// NewMultipartUpload builds a POST request carrying a single file in a
// multipart/form-data body under field.
func NewMultipartUpload(rawURL, field, filename string, content io.Reader) (Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return Request{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Request{}, fmt.Errorf("copy upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Request{}, fmt.Errorf("close multipart writer: %w", err)
	}
	return Request{
		Method:      http.MethodPost,
		URL:         rawURL,
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	}, nil
}

// Response is a fully read reply.
type Response struct {
	StatusCode int
	Body       string
	Header     http.Header
}

// Text returns the body with surrounding whitespace removed.
func (r Response) Text() string {
	return strings.TrimSpace(r.Body)
}

// Location returns the Location header, if any.
func (r Response) Location() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Location")
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	UserAgent string
	APIKey    string
	Timeout   time.Duration
}

// Client resolves relative URLs against a base URL and performs requests.
type Client struct {
	http      *http.Client
	base      *url.URL
	userAgent string
	apiKey    string
	timeout   time.Duration
	logger    *zap.Logger
}

// New constructs a Client. httpClient may be nil, in which case a client with
// redirects disabled is created.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	var base *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if !parsed.IsAbs() {
			return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
		}
		base = parsed
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// Copy so the caller's client keeps its own redirect policy.
	hc := *httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      &hc,
		base:      base,
		userAgent: cfg.UserAgent,
		apiKey:    cfg.APIKey,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Resolve turns ref into an absolute URL using the client's base URL. When no
// base is configured ref is returned unchanged.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	if u.IsAbs() || c.base == nil {
		return u.String(), nil
	}
	return c.base.ResolveReference(u).String(), nil
}

// Do performs req and reads the whole response. HTTP error statuses are
// returned as responses, not errors.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	target, err := c.Resolve(req.URL)
	if err != nil {
		return Response{}, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveClientRequest(target, method, 0, time.Since(start))
		return Response{}, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ObserveClientRequest(target, method, resp.StatusCode, time.Since(start))
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Response{
		StatusCode: resp.StatusCode,
		Body:       string(data),
		Header:     resp.Header,
	}, nil
}

// GetJSON fetches rawURL and decodes a 200 reply into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	req := NewGet(rawURL)
	req.Header = http.Header{"Accept": []string{"application/json"}}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: resp.Text()}
	}
	if err := json.NewDecoder(strings.NewReader(resp.Body)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// StatusError reports an unexpected HTTP status from GetJSON.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError carrying code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
