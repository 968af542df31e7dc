// Package gateway is the client for the spreadsheet account backend. Every
// call is a POST of a JSON body carrying an "action" discriminator; the
// backend answers {success, user, error, message}.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/metrics"
	"github.com/pavelanni/eikenprep/internal/model"
)

// Response is the backend's reply envelope.
type Response struct {
	Success bool        `json:"success"`
	User    *model.User `json:"user,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Config configures the client.
type Config struct {
	URL     string
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client talks to the backend.
type Client struct {
	url     string
	http    *http.Client
	breaker circuitbreaker.CircuitBreaker[*Response]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a client. An empty URL yields a client whose calls all fail
// with a configuration error.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		url:     cfg.URL,
		http:    &http.Client{Timeout: timeout},
		metrics: cfg.Metrics,
		logger:  logger,
	}
	c.breaker = circuitbreaker.New[*Response](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("backend sync breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Configured reports whether a backend URL is set.
func (c *Client) Configured() bool {
	return c.url != ""
}

// Login checks a home account's credentials.
func (c *Client) Login(ctx context.Context, email, passwordDigest string) (model.User, error) {
	const op = "login"
	resp, err := c.post(ctx, op, map[string]any{
		"action":       "login",
		"email":        email,
		"passwordHash": passwordDigest,
	})
	if err != nil {
		return model.User{}, err
	}
	if !resp.Success {
		return model.User{}, apperr.Auth(op, apperr.MsgLoginFailed, backendError(resp))
	}
	return userOf(op, resp)
}

// SchoolLogin fetches or creates the record of a school-managed student.
func (c *Client) SchoolLogin(ctx context.Context, studentName string) (model.User, error) {
	const op = "school login"
	resp, err := c.post(ctx, op, map[string]any{
		"action":      "schoolLogin",
		"studentName": studentName,
	})
	if err != nil {
		return model.User{}, err
	}
	if !resp.Success {
		return model.User{}, apperr.Auth(op, apperr.MsgSchoolLoginFailed, backendError(resp))
	}
	return userOf(op, resp)
}

// Register creates a home account. The backend rejects it unless the
// barcode number and student name match a provisioned record.
func (c *Client) Register(ctx context.Context, u model.User) (model.User, error) {
	const op = "register"
	resp, err := c.post(ctx, op, map[string]any{
		"action": "register",
		"user":   u,
	})
	if err != nil {
		return model.User{}, err
	}
	if !resp.Success {
		return model.User{}, apperr.Validation(op, apperr.MsgRegistrationRejected, backendError(resp))
	}
	if resp.User == nil {
		return u, nil
	}
	return *resp.User, nil
}

// ResetRequest proves account ownership for a password reset.
type ResetRequest struct {
	Email         string
	BarcodeNumber string
	StudentName   string
	NewDigest     string
}

// ResetPassword replaces the stored password digest.
func (c *Client) ResetPassword(ctx context.Context, r ResetRequest) error {
	const op = "reset password"
	resp, err := c.post(ctx, op, map[string]any{
		"action":        "resetPassword",
		"email":         r.Email,
		"barcodeNumber": r.BarcodeNumber,
		"studentName":   r.StudentName,
		"newHash":       r.NewDigest,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return apperr.Validation(op, apperr.MsgResetRejected, backendError(resp))
	}
	return nil
}

// SyncState mirrors the user's progress to the backend. It is best-effort:
// repeated failures open a circuit breaker and further calls fail fast until
// it closes again. The returned user is nil when the backend sent none.
func (c *Client) SyncState(ctx context.Context, u model.User, action string, extra map[string]any) (*model.User, error) {
	const op = "sync state"
	if !c.Configured() {
		return nil, notConfigured(op)
	}

	resp, err := c.breaker.Execute(ctx, func(ctx context.Context) (*Response, error) {
		resp, err := c.post(ctx, op, statePayload(u, action, extra))
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, apperr.Network(op, backendError(resp))
		}
		return resp, nil
	})
	if err != nil {
		c.metrics.Sync("failed")
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Network(op, err)
		}
		return nil, err
	}
	c.metrics.Sync("ok")
	return resp.User, nil
}

// Purchase records a shop action for u, which already carries the new
// balance and subscription state. The backend's copy of the user wins when
// it sends one.
func (c *Client) Purchase(ctx context.Context, u model.User, action string, extra map[string]any) (model.User, error) {
	const op = "purchase"
	resp, err := c.post(ctx, op, statePayload(u, action, extra))
	if err != nil {
		return model.User{}, err
	}
	if !resp.Success {
		return model.User{}, apperr.New(apperr.KindPayment, op, apperr.MsgPaymentFailed, backendError(resp))
	}
	if resp.User == nil {
		return u, nil
	}
	return *resp.User, nil
}

func statePayload(u model.User, action string, extra map[string]any) map[string]any {
	body := map[string]any{
		"action":      action,
		"userId":      u.ID,
		"email":       u.ParentEmail,
		"studentName": u.Name,
		"stats":       u.Stats,
		"badges":      u.Badges,
		"credits":     u.Credits,
	}
	for k, v := range extra {
		if _, reserved := body[k]; !reserved {
			body[k] = v
		}
	}
	return body
}

func (c *Client) post(ctx context.Context, op string, body map[string]any) (*Response, error) {
	if !c.Configured() {
		return nil, notConfigured(op)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Config(op, apperr.MsgBackendNotConfigured, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Network(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return nil, apperr.Network(op, fmt.Errorf("backend status %d", res.StatusCode))
	}

	var out Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, apperr.Network(op, fmt.Errorf("decode backend response: %w", err))
	}
	c.logger.Debug("backend call", "action", body["action"], "success", out.Success)
	return &out, nil
}

func userOf(op string, resp *Response) (model.User, error) {
	if resp.User == nil || resp.User.ID == "" {
		return model.User{}, apperr.Network(op, errors.New("backend sent no user"))
	}
	return *resp.User, nil
}

func backendError(resp *Response) error {
	switch {
	case resp.Error != "":
		return errors.New(resp.Error)
	case resp.Message != "":
		return errors.New(resp.Message)
	}
	return errors.New("backend refused the request")
}

func notConfigured(op string) error {
	return apperr.Config(op, apperr.MsgBackendNotConfigured, errors.New("no backend URL configured"))
}
