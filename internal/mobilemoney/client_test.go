package mobilemoney

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentRequest struct {
	Username  string          `json:"username"`
	Password  string          `json:"password"`
	Action    string          `json:"action"`
	Phone     string          `json:"phone"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason"`
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		URL:           srv.URL,
		Username:      "merchant",
		Password:      "s3cret",
		Timeout:       2 * time.Second,
		StatusRetries: 2,
		RetryInterval: time.Millisecond,
	}, nil)
}

func TestCollectSendsCredentialsAndPayload(t *testing.T) {
	var got sentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":1,"data":{"transactionId":"EP-1"}}`))
	})

	resp, err := c.Collect(context.Background(), Collection{
		Phone:     "256700000001",
		Amount:    decimal.NewFromInt(20000),
		Reference: "MM-1",
		Reason:    "wallet top-up",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Success)
	assert.JSONEq(t, `{"transactionId":"EP-1"}`, string(resp.Data))
	assert.Equal(t, "merchant", got.Username)
	assert.Equal(t, "s3cret", got.Password)
	assert.Equal(t, actionDeposit, got.Action)
	assert.Equal(t, "256700000001", got.Phone)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, "MM-1", got.Reference)
	assert.Equal(t, "wallet top-up", got.Reason)
}

func TestSendUsesPayoutAction(t *testing.T) {
	var got sentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":1}`))
	})

	_, err := c.Send(context.Background(), Payout{Phone: "256700000002", Amount: decimal.NewFromInt(60000), Reference: "TXN-1"})
	require.NoError(t, err)
	assert.Equal(t, actionPayout, got.Action)
	assert.Equal(t, "TXN-1", got.Reference)
}

func TestDeclinedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success":0,"errormsg":"unknown reference"}`))
	})

	_, err := c.Status(context.Background(), "MM-404")
	require.ErrorIs(t, err, ErrDeclined)
	assert.Contains(t, err.Error(), "unknown reference")
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":1,"data":{"status":"SUCCESS"}}`))
	})

	resp, err := c.Status(context.Background(), "MM-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SUCCESS"}`, string(resp.Data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestStatusGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Status(context.Background(), "MM-1")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCollectIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Collect(context.Background(), Collection{Phone: "256700000001", Amount: decimal.NewFromInt(10000), Reference: "MM-2"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
