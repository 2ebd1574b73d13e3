// Package mobilemoney is a client for the EasyPay mobile-money gateway:
// collections into the platform, payouts to a user's phone and status
// lookups by reference. The gateway reports the outcome of collections
// asynchronously through the IPN callback.
package mobilemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	actionDeposit = "mmdeposit"
	actionPayout  = "mmpayout"
	actionStatus  = "mmstatus"
)

// ErrDeclined is returned when the gateway answers with success=0.
var ErrDeclined = errors.New("mobile money request declined")

type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	// StatusRetries bounds the retries of status lookups. Collections and
	// payouts are never retried.
	StatusRetries uint64
	RetryInterval time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type Collection struct {
	Phone     string
	Amount    decimal.Decimal
	Reference string
	Reason    string
}

type Payout struct {
	Phone     string
	Amount    decimal.Decimal
	Reference string
}

// Response is the gateway envelope. Data is passed through untouched.
type Response struct {
	Success  int             `json:"success"`
	ErrorMsg string          `json:"errormsg,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type request struct {
	Username  string           `json:"username"`
	Password  string           `json:"password"`
	Action    string           `json:"action"`
	Phone     string           `json:"phone,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Reference string           `json:"reference"`
	Reason    string           `json:"reason,omitempty"`
}

// Collect asks the gateway to pull funds from the payer's phone.
func (c *Client) Collect(ctx context.Context, col Collection) (*Response, error) {
	return c.call(ctx, request{
		Action:    actionDeposit,
		Phone:     col.Phone,
		Amount:    &col.Amount,
		Reference: col.Reference,
		Reason:    col.Reason,
	})
}

// Send pays an approved withdrawal out to the user's phone.
func (c *Client) Send(ctx context.Context, p Payout) (*Response, error) {
	return c.call(ctx, request{
		Action:    actionPayout,
		Phone:     p.Phone,
		Amount:    &p.Amount,
		Reference: p.Reference,
	})
}

// Status looks up a payment by reference, retrying transport failures.
func (c *Client) Status(ctx context.Context, reference string) (*Response, error) {
	var resp *Response
	op := func() error {
		var err error
		resp, err = c.call(ctx, request{Action: actionStatus, Reference: reference})
		if errors.Is(err, ErrDeclined) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn("mobile money status lookup failed",
				zap.String("reference", reference),
				zap.Error(err),
			)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.StatusRetries), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, r request) (*Response, error) {
	r.Username = c.cfg.Username
	r.Password = c.cfg.Password

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response (%s): %w", resp.Status, err)
	}
	if out.Success != 1 {
		return &out, fmt.Errorf("%w: %s", ErrDeclined, out.ErrorMsg)
	}

	c.logger.Debug("mobile money call",
		zap.String("action", r.Action),
		zap.String("reference", r.Reference),
	)
	return &out, nil
}
