// Package identitysync pushes verification outcomes to the identity service.
package identitysync

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

	id "ekyc/pkg/domain"
)

// Config configures the identity service client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client sends PATCH /accounts/{id}/verification-status.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	tokens  *ServiceTokens
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithServiceTokens enables minted tokens for calls without a caller token.
func WithServiceTokens(t *ServiceTokens) Option {
	return func(cl *Client) {
		cl.tokens = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid identity service url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("identity sync timeout must be positive")
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type statusUpdate struct {
	IsVerified         bool   `json:"isVerified"`
	VerificationStatus string `json:"verificationStatus"`
}

// ErrNoCredentials is returned when neither a caller token nor a service
// token source is available.
var ErrNoCredentials = errors.New("no credentials for identity sync")

// Notify sends the current outcome for a subject. authToken is the caller's
// bearer token; when empty a service token is minted instead.
func (c *Client) Notify(ctx context.Context, subjectID id.SubjectID, status string, isVerified bool, authToken string) error {
	token := strings.TrimSpace(strings.TrimPrefix(authToken, "Bearer "))
	if token == "" {
		if c.tokens == nil {
			return ErrNoCredentials
		}
		minted, err := c.tokens.Mint()
		if err != nil {
			return fmt.Errorf("mint service token: %w", err)
		}
		token = minted
	}

	body, err := json.Marshal(statusUpdate{IsVerified: isVerified, VerificationStatus: status})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + "/accounts/" + url.PathEscape(subjectID.String()) + "/verification-status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send status update: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}
	c.logger.DebugContext(ctx, "identity status synced",
		"subject_id", subjectID.String(),
		"status", status,
		"is_verified", isVerified,
	)
	return nil
}
