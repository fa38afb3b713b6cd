// Package api provides the HTTP client for the log classification API.
// Every non-2xx response is classified into the triage error taxonomy so
// callers can react to 401s uniformly.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alert-triage/internal/errors"
	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
)

const (
	// DefaultTimeout bounds every request.
	DefaultTimeout = 5 * time.Second

	// DefaultListLimit is the page size of log listings.
	DefaultListLimit = 100

	maxResponseBytes = 16 << 20
)

// Client handles communication with the classification API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
	validator  *schema.Validator
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithToken sets the bearer token source, usually the session guard.
func WithToken(fn func() string) Option {
	return func(c *Client) { c.token = fn }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new API client. baseURL includes the API prefix,
// e.g. http://localhost:5000/api.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		token:     func() string { return "" },
		validator: schema.NewValidator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the common response wrapper.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Msg     string `json:"msg"` // JWT middleware errors
}

func (e envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

// do sends a request and decodes a successful JSON body into out.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(op, errors.KindUpstream, "failed to create request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Upstream(op, fmt.Errorf("connection failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Upstream(op, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug("api request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	var env envelope
	_ = json.Unmarshal(data, &env)

	if err := errors.FromStatus(op, resp.StatusCode, env.text()); err != nil {
		return err
	}
	if env.Success != nil && !*env.Success {
		msg := env.text()
		if msg == "" {
			msg = "request was not successful"
		}
		return errors.New(op, errors.KindUpstream, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Upstream(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(op, errors.KindValidation, "failed to encode request", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType, out)
}

// Health checks that the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, "api.Health", http.MethodGet, "/health", nil, nil)
}

// LoginResult is a freshly issued session.
type LoginResult struct {
	Token                string      `json:"token"`
	Email                string      `json:"email"`
	Role                 schema.Role `json:"role"`
	RequirePasswordReset bool        `json:"require_password_reset"`
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	const op = "api.Login"

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, errors.Validation(op, "Email and password required")
	}

	in := map[string]string{"email": email, "password": password}
	var out LoginResult
	if err := c.doJSON(ctx, op, http.MethodPost, "/auth/login", in, &out); err != nil {
		// Rejected credentials are an input problem here, not a lost session.
		var e *errors.Error
		if errors.As(err, &e) && e.Kind == errors.KindUnauthorized {
			return nil, &errors.Error{Op: op, Kind: errors.KindValidation, Message: "Invalid credentials", Status: e.Status}
		}
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New(op, errors.KindUpstream, "login response carried no token")
	}
	if !out.Role.IsValid() {
		return nil, errors.New(op, errors.KindUpstream, fmt.Sprintf("login response carried unknown role %q", out.Role))
	}
	return &out, nil
}

// Identity is the server's view of the current token.
type Identity struct {
	Email                string      `json:"email"`
	Role                 schema.Role `json:"role"`
	RequirePasswordReset bool        `json:"require_password_reset"`
}

// VerifySession checks the current token and returns its identity.
func (c *Client) VerifySession(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.doJSON(ctx, "api.VerifySession", http.MethodGet, "/auth/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword sets a new password for the current user.
func (c *Client) ResetPassword(ctx context.Context, newPassword string) error {
	in := map[string]string{"new_password": newPassword}
	return c.doJSON(ctx, "api.ResetPassword", http.MethodPost, "/auth/reset-password", in, nil)
}

// ListLogs fetches log records for a scope. Records failing validation are
// dropped and logged.
func (c *Client) ListLogs(ctx context.Context, scope rbac.Scope, limit int) ([]schema.LogRecord, error) {
	const op = "api.ListLogs"

	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := "?limit=" + strconv.Itoa(limit)

	var path string
	switch scope.Kind {
	case rbac.ScopeOwn:
		path = "/logs/me" + q
	case rbac.ScopeAll:
		path = "/logs" + q
	case rbac.ScopeFiltered:
		if !scope.Prediction.IsValid() {
			return nil, errors.Validation(op, fmt.Sprintf("invalid prediction filter %q", scope.Prediction))
		}
		// The server keeps a dedicated listing for malicious records.
		if scope.Prediction == schema.PredictionMalicious {
			path = "/logs/malicious" + q
			break
		}
		path = "/logs/filter/" + url.PathEscape(string(scope.Prediction)) + q
	default:
		return nil, errors.Validation(op, fmt.Sprintf("unknown scope %q", scope.Kind))
	}

	return c.listLogs(ctx, op, path)
}

func (c *Client) listLogs(ctx context.Context, op, path string) ([]schema.LogRecord, error) {
	var out struct {
		Logs []schema.LogRecord `json:"logs"`
	}
	if err := c.doJSON(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	valid := out.Logs[:0]
	dropped := 0
	for i := range out.Logs {
		if err := c.validator.ValidateLog(&out.Logs[i]); err != nil {
			dropped++
			c.logger.Warn("dropping invalid log record", "op", op, "error", err)
			continue
		}
		valid = append(valid, out.Logs[i])
	}
	if dropped > 0 {
		c.logger.Warn("log listing contained invalid records", "op", op, "dropped", dropped)
	}
	return valid, nil
}

// GetStatistics fetches per-label counts. Counts that do not add up are an
// upstream failure.
func (c *Client) GetStatistics(ctx context.Context) (schema.Statistics, error) {
	const op = "api.GetStatistics"

	var out struct {
		Statistics schema.Statistics `json:"statistics"`
	}
	if err := c.doJSON(ctx, op, http.MethodGet, "/statistics", nil, &out); err != nil {
		return schema.Statistics{}, err
	}
	if err := c.validator.ValidateStatistics(&out.Statistics); err != nil {
		return schema.Statistics{}, errors.Upstream(op, err)
	}
	return out.Statistics, nil
}

// AnalyzeText classifies a single log line.
func (c *Client) AnalyzeText(ctx context.Context, text string) (*schema.ClassifiedRecord, error) {
	const op = "api.AnalyzeText"

	if strings.TrimSpace(text) == "" {
		return nil, errors.Validation(op, "Please enter log text to analyze")
	}

	var out schema.ClassifiedRecord
	in := map[string]string{"text": text}
	if err := c.doJSON(ctx, op, http.MethodPost, "/analyze/text", in, &out); err != nil {
		return nil, err
	}
	if err := c.validator.ValidateClassified(&out); err != nil {
		return nil, errors.Upstream(op, err)
	}
	return &out, nil
}

// FileAnalysis is the raw batch response of a file upload.
type FileAnalysis struct {
	TotalLogs  int                       `json:"total_logs"`
	Statistics schema.Statistics         `json:"statistics"`
	Results    []schema.ClassifiedRecord `json:"results"`
}

// AnalyzeFile uploads a log file for batch classification.
func (c *Client) AnalyzeFile(ctx context.Context, filename string, content io.Reader) (*FileAnalysis, error) {
	const op = "api.AnalyzeFile"

	if content == nil {
		return nil, errors.Validation(op, "Please select a file to analyze")
	}
	if strings.TrimSpace(filename) == "" {
		return nil, errors.Validation(op, "No file selected")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(op, errors.KindValidation, "failed to build upload", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errors.Wrap(op, errors.KindValidation, "failed to read file", err)
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(op, errors.KindValidation, "failed to build upload", err)
	}

	var out FileAnalysis
	if err := c.do(ctx, op, http.MethodPost, "/analyze/file", &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	if err := c.validator.ValidateBatch(out.Results); err != nil {
		return nil, errors.Upstream(op, err)
	}
	return &out, nil
}

// ListUsers lists every user. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]schema.UserRecord, error) {
	var out struct {
		Users []schema.UserRecord `json:"users"`
	}
	if err := c.doJSON(ctx, "api.ListUsers", http.MethodGet, "/admin/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// CreatedUser is the result of creating a user. The temporary password is
// returned once and is never retrievable again.
type CreatedUser struct {
	Email                string `json:"email"`
	TemporaryPassword    string `json:"temporary_password"`
	RequirePasswordReset bool   `json:"require_password_reset"`
}

// CreateUser creates a user with a generated temporary password. Admin only.
func (c *Client) CreateUser(ctx context.Context, u schema.NewUser) (*CreatedUser, error) {
	const op = "api.CreateUser"

	if err := c.validator.ValidateNewUser(&u); err != nil {
		return nil, errors.Wrap(op, errors.KindValidation, "Enter a valid email and role", err)
	}

	var out CreatedUser
	if err := c.doJSON(ctx, op, http.MethodPost, "/admin/users/create", u, &out); err != nil {
		return nil, err
	}
	if out.TemporaryPassword == "" {
		return nil, errors.New(op, errors.KindUpstream, "create-user response carried no temporary password")
	}
	return &out, nil
}

// UpdateUserRole changes a user's role. Admin only.
func (c *Client) UpdateUserRole(ctx context.Context, email string, role schema.Role) error {
	const op = "api.UpdateUserRole"

	if !role.IsValid() {
		return errors.Validation(op, "Invalid role")
	}
	if email == "" {
		return errors.Validation(op, "Email required")
	}
	in := map[string]string{"role": string(role)}
	return c.doJSON(ctx, op, http.MethodPut, "/admin/users/"+url.PathEscape(email)+"/role", in, nil)
}

// ResolveLog records an alert resolution in the log store.
func (c *Client) ResolveLog(ctx context.Context, id string) error {
	if id == "" {
		return errors.Validation("api.ResolveLog", "log id required")
	}
	return c.doJSON(ctx, "api.ResolveLog", http.MethodPut, "/logs/"+url.PathEscape(id)+"/resolve", nil, nil)
}

// DeleteAllLogs deletes every log record and returns how many were removed.
// Admin only.
func (c *Client) DeleteAllLogs(ctx context.Context) (int, error) {
	const op = "api.DeleteAllLogs"

	var out struct {
		DeletedCount *int `json:"deleted_count"`
	}
	if err := c.doJSON(ctx, op, http.MethodDelete, "/logs/clear/all", nil, &out); err != nil {
		return 0, err
	}
	if out.DeletedCount == nil {
		return 0, errors.New(op, errors.KindUpstream, "clear response carried no deleted_count")
	}
	return *out.DeletedCount, nil
}
