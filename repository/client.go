// Package repository provides a stateless HTTP client for the damage report
// collection. Every failure crossing this package's boundary is an *Error.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/c360studio/reliefdesk/report"
	"github.com/google/uuid"
)

const (
	// maxResponseSize limits response bodies read from the service.
	maxResponseSize = 10 * 1024 * 1024 // 10MB

	// DefaultTimeout bounds each request.
	DefaultTimeout = 30 * time.Second

	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:5000/api"
)

// Operation names used in errors, logs and metrics.
const (
	OpList         = "list"
	OpGet          = "get"
	OpCreate       = "create"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpReplaceMedia = "replace_media"
)

// Client talks to the houses endpoints of the reporting service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tokens     TokenSource
	logger     *slog.Logger
	metrics    *Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.timeout = d
		}
	}
}

// WithTokenSource sets where the bearer credential comes from.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(client *Client) {
		client.tokens = ts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithMetrics enables request metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

// NewClient creates a client rooted at baseURL, e.g. "http://host/api".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		tokens:     StaticToken(""),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the service root the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type houseEnvelope struct {
	House *report.Record `json:"house"`
}

// List returns the full collection in server order.
func (c *Client) List(ctx context.Context) (records []report.Record, err error) {
	started := time.Now()
	defer func() { c.metrics.observe(OpList, started, err) }()

	body, err := c.do(ctx, OpList, "", http.MethodGet, "/houses", nil, "")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, decodeError(OpList, "", err)
	}
	if records == nil {
		records = []report.Record{}
	}
	for _, r := range records {
		if raw := r.UnparsedDamageTime(); raw != "" {
			c.logger.Warn("Record has an unreadable damage time",
				"id", r.ID,
				"damage_time", raw)
		}
	}
	return records, nil
}

// Get fetches one record. A missing record yields KindNotFound.
func (c *Client) Get(ctx context.Context, id string) (rec report.Record, err error) {
	started := time.Now()
	defer func() { c.metrics.observe(OpGet, started, err) }()

	if err := requireID(OpGet, id); err != nil {
		return report.Record{}, err
	}
	body, err := c.do(ctx, OpGet, id, http.MethodGet, "/houses/details/"+url.PathEscape(id), nil, "")
	if err != nil {
		return report.Record{}, err
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return report.Record{}, decodeError(OpGet, id, err)
	}
	return rec, nil
}

// Create submits a new report with its images.
func (c *Client) Create(ctx context.Context, draft report.Draft) (rec report.Record, err error) {
	started := time.Now()
	defer func() { c.metrics.observe(OpCreate, started, err) }()

	if err := draft.ValidateCreate(); err != nil {
		return report.Record{}, localValidationError(OpCreate, "", err)
	}
	return c.sendForm(ctx, OpCreate, "", http.MethodPost, "/houses", draft.Fields(), draft.Images)
}

// Update applies the set fields of draft to record id. Images in the draft
// are sent along as "images" parts; use ReplaceMedia to swap the whole list.
func (c *Client) Update(ctx context.Context, id string, draft report.Draft) (rec report.Record, err error) {
	started := time.Now()
	defer func() { c.metrics.observe(OpUpdate, started, err) }()

	if err := requireID(OpUpdate, id); err != nil {
		return report.Record{}, err
	}
	if err := draft.ValidateUpdate(); err != nil {
		return report.Record{}, localValidationError(OpUpdate, id, err)
	}
	return c.sendForm(ctx, OpUpdate, id, http.MethodPut, "/houses/"+url.PathEscape(id), draft.Fields(), draft.Images)
}

// Delete removes record id.
func (c *Client) Delete(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { c.metrics.observe(OpDelete, started, err) }()

	if err := requireID(OpDelete, id); err != nil {
		return err
	}
	_, err = c.do(ctx, OpDelete, id, http.MethodDelete, "/houses/"+url.PathEscape(id), nil, "")
	return err
}

// ReplaceMedia replaces every image of record id with images, in order.
func (c *Client) ReplaceMedia(ctx context.Context, id string, images []report.Attachment) (rec report.Record, err error) {
	started := time.Now()
	defer func() { c.metrics.observe(OpReplaceMedia, started, err) }()

	if err := requireID(OpReplaceMedia, id); err != nil {
		return report.Record{}, err
	}
	if len(images) == 0 {
		return report.Record{}, &Error{
			Kind:    KindValidation,
			Op:      OpReplaceMedia,
			ID:      id,
			Message: "At least one image is required",
		}
	}
	return c.sendForm(ctx, OpReplaceMedia, id, http.MethodPut,
		"/houses/"+url.PathEscape(id)+"/replace-images", nil, images)
}

func (c *Client) sendForm(ctx context.Context, op, id, method, path string, fields []report.FormField, images []report.Attachment) (report.Record, error) {
	body, contentType, err := encodeForm(fields, images)
	if err != nil {
		return report.Record{}, &Error{Kind: KindValidation, Op: op, ID: id, Err: err}
	}

	respBody, err := c.do(ctx, op, id, method, path, body, contentType)
	if err != nil {
		return report.Record{}, err
	}
	return decodeHouse(op, id, respBody)
}

// do executes one request and translates every failure into an *Error.
func (c *Client) do(ctx context.Context, op, id, method, path string, body io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.New().String()
	reqURL := c.baseURL + path

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, ID: id, Err: fmt.Errorf("create HTTP request: %w", err)}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	token, err := c.tokens.Token()
	if err != nil {
		return nil, &Error{Kind: KindAuth, Op: op, ID: id, Message: "Sign in again to continue", Err: err}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("Sending repository request",
		"op", op,
		"method", method,
		"url", reqURL,
		"request_id", requestID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(op, id, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError(op, id, fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		e := &Error{
			Kind:    classifyStatus(httpResp.StatusCode),
			Op:      op,
			ID:      id,
			Status:  httpResp.StatusCode,
			Message: extractMessage(respBody),
		}
		c.logger.Warn("Repository request failed",
			"op", op,
			"id", id,
			"status", httpResp.StatusCode,
			"kind", e.Kind.String(),
			"request_id", requestID)
		return nil, e
	}

	return respBody, nil
}

func transportError(op, id string, err error) error {
	msg := "Unable to reach the server"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "The server took too long to respond"
	}
	return &Error{Kind: KindNetwork, Op: op, ID: id, Message: msg, Err: err}
}

func decodeError(op, id string, err error) error {
	return &Error{Kind: KindServer, Op: op, ID: id, Err: fmt.Errorf("decode response: %w", err)}
}

func localValidationError(op, id string, err error) error {
	return &Error{Kind: KindValidation, Op: op, ID: id, Message: err.Error(), Err: err}
}

func requireID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return &Error{Kind: KindValidation, Op: op, Message: "A report identifier is required"}
	}
	return nil
}

// decodeHouse reads the {"house": {...}} envelope, falling back to a bare
// record body.
func decodeHouse(op, id string, body []byte) (report.Record, error) {
	var env houseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return report.Record{}, decodeError(op, id, err)
	}
	if env.House != nil {
		return *env.House, nil
	}
	var rec report.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return report.Record{}, decodeError(op, id, err)
	}
	if rec.ID == "" {
		return report.Record{}, decodeError(op, id, fmt.Errorf("response carries no record"))
	}
	return rec, nil
}

// extractMessage pulls a user-facing message out of an error body.
func extractMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Errors  []struct {
			Message string `json:"message"`
			Msg     string `json:"msg"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case len(payload.Errors) > 0:
			msgs := make([]string, 0, len(payload.Errors))
			for _, e := range payload.Errors {
				if e.Message != "" {
					msgs = append(msgs, e.Message)
				} else if e.Msg != "" {
					msgs = append(msgs, e.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
		return ""
	}

	text := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
	if strings.HasPrefix(text, "<") {
		return ""
	}
	return truncateMessage(text, maxMessageLen)
}

const maxMessageLen = 200

// truncateMessage shortens s to at most n bytes without splitting a rune.
func truncateMessage(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
