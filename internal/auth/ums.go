// Package auth performs the user-management login exchange through a page's
// request context, so the session cookies end up in the browsing context.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/internal/ratelimit"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// LoginPath is the UMS login endpoint relative to the base URL
const LoginPath = "user-management-service/api/v1/User/Login"

// LoginRequest is the UMS login payload
type LoginRequest struct {
	Input      string `json:"input"`
	Password   string `json:"password"`
	IsRemember int    `json:"isRemember"`
}

// Session is the result of a successful login
type Session struct {
	Status int
	// UserID is empty when the response carried no identifier.
	UserID string
}

type loginResponse struct {
	Result struct {
		UserID json.RawMessage `json:"UserId"`
	} `json:"Result"`
	UserID json.RawMessage `json:"userId"`
}

// UMSHeaders returns the header preset sent with UMS requests
func UMSHeaders() map[string]string {
	return map[string]string{
		"Accept":           "application/json, text/plain, */*",
		"Cache-Control":    "no-cache",
		"Content-Type":     "application/json",
		"APIVersion":       "2020-02-28 18:30",
		"UniqueId":         "deviceidfromweb",
		"Sellernet-Origin": "desktop",
		"Auth":             "1",
	}
}

// Options configure an Authenticator
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RememberMe bool
}

// Authenticator logs accounts in against UMS
type Authenticator struct {
	opts    Options
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewAuthenticator creates an authenticator. A nil limiter disables throttling.
func NewAuthenticator(opts Options, limiter *ratelimit.Limiter, logger *zap.Logger) *Authenticator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(0, 1)
	}
	return &Authenticator{
		opts:    opts,
		limiter: limiter,
		logger:  logger.Named("auth"),
	}
}

// LoginURL returns the absolute login endpoint
func (a *Authenticator) LoginURL() string {
	base := a.opts.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + LoginPath
}

// Login authenticates cred through page. A non-2xx status is an
// ErrAuthentication. A response without a user id is accepted with a warning.
func (a *Authenticator) Login(ctx context.Context, page driver.Page, cred models.CredentialRecord) (Session, error) {
	if err := a.limiter.Wait(ctx, cred.AccountID); err != nil {
		return Session{}, err
	}
	if err := ctx.Err(); err != nil {
		return Session{}, fmt.Errorf("%w: login for %s: %v", models.ErrAuthentication, cred.AccountID, err)
	}

	remember := 0
	if a.opts.RememberMe {
		remember = 1
	}
	payload, err := json.Marshal(LoginRequest{
		Input:      cred.Username,
		Password:   cred.Password,
		IsRemember: remember,
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode login request: %w", err)
	}

	timeout := float64(a.opts.Timeout.Milliseconds())
	resp, err := page.Post(a.LoginURL(), playwright.APIRequestContextPostOptions{
		Data:    string(payload),
		Headers: UMSHeaders(),
		Timeout: &timeout,
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: login request for %s failed: %v", models.ErrAuthentication, cred.AccountID, err)
	}

	status := resp.Status()
	a.logger.Info("login response",
		zap.String("account", cred.AccountID),
		zap.Int("status", status))

	if !resp.Ok() {
		return Session{Status: status}, fmt.Errorf("%w: login failed for %s with status %d", models.ErrAuthentication, cred.AccountID, status)
	}

	session := Session{Status: status}
	body, err := resp.Body()
	if err != nil {
		a.logger.Warn("failed to read login response", zap.String("account", cred.AccountID), zap.Error(err))
		return session, nil
	}

	session.UserID = userID(body)
	if session.UserID == "" {
		a.logger.Warn("login response carried no user id", zap.String("account", cred.AccountID))
	}
	return session, nil
}

func userID(body []byte) string {
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if id := scalar(resp.Result.UserID); id != "" {
		return id
	}
	return scalar(resp.UserID)
}

// scalar renders a JSON string or number as text
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
