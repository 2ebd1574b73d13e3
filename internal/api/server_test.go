package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voltledger/internal/mobilemoney"
	"voltledger/internal/models"
	"voltledger/internal/service"
	"voltledger/internal/store/memory"
)

const (
	testAdminSecret = "bootstrap-secret"
	testIPNSecret   = "ipn-secret"
)

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()
	return setupTestServerWithGateway(t, nil)
}

func setupTestServerWithGateway(t *testing.T, gw service.PaymentGateway) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := memory.New()
	d := service.Deps{Store: st, Gateway: gw, Logger: logger, Location: time.UTC}

	server := NewServer(Options{
		Store:          st,
		Users:          service.NewUserService(d),
		Tasks:          service.NewTaskService(d, 2),
		Wallet:         service.NewWalletService(d),
		Logger:         logger,
		JWTSecret:      "test-secret",
		JWTTTL:         time.Hour,
		AdminSecret:    testAdminSecret,
		IPNSecret:      testIPNSecret,
		AllowedOrigins: []string{"*"},
	})
	return server.Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doRaw(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func registerUser(t *testing.T, h http.Handler, username, phone string) models.LoginResponse {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/auth/register", "", models.CreateUserRequest{
		Phone: phone, Username: username, Password: "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.LoginResponse](t, w)
}

func registerAdmin(t *testing.T, h http.Handler) models.LoginResponse {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/auth/register-admin", "", models.CreateUserRequest{
		Phone: "0700999999", Username: "admin", Password: "secret123", Secret: testAdminSecret,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.LoginResponse](t, w)
}

func TestRegisterAndLogin(t *testing.T) {
	h := setupTestServer(t)

	tests := []struct {
		name           string
		payload        models.CreateUserRequest
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "Valid User",
			payload:        models.CreateUserRequest{Phone: "0700000001", Username: "alice", Password: "secret123"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Duplicate User",
			payload:        models.CreateUserRequest{Phone: "0700000001", Username: "alice", Password: "secret123"},
			expectedStatus: http.StatusConflict,
			expectedKind:   "conflict",
		},
		{
			name:           "Missing Fields",
			payload:        models.CreateUserRequest{Username: "bob"},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/auth/register", "", tt.payload)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedKind != "" {
				resp := decode[errorResponse](t, w)
				assert.Equal(t, "error", resp.Status)
				assert.Equal(t, tt.expectedKind, string(resp.Kind))
				assert.NotEmpty(t, resp.Message)
				return
			}
			resp := decode[models.LoginResponse](t, w)
			assert.NotEmpty(t, resp.Token)
			assert.Equal(t, "alice", resp.User.Username)
		})
	}

	w := do(t, h, http.MethodPost, "/api/auth/login", "", models.LoginRequest{UsernameOrPhone: "0700000001", Password: "secret123"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[models.LoginResponse](t, w).Token)

	w = do(t, h, http.MethodPost, "/api/auth/login", "", models.LoginRequest{UsernameOrPhone: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/api/auth/signin", "", models.LoginRequest{UsernameOrPhone: "alice", Password: "secret123"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegisterAdminRequiresSecret(t *testing.T) {
	h := setupTestServer(t)

	w := do(t, h, http.MethodPost, "/api/auth/register-admin", "", models.CreateUserRequest{
		Phone: "0700999999", Username: "admin", Password: "secret123", Secret: "guess",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := registerAdmin(t, h)
	assert.True(t, admin.User.IsAdmin)

	w = do(t, h, http.MethodPost, "/api/auth/signin", "", models.LoginRequest{UsernameOrPhone: "admin", Password: "secret123"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	h := setupTestServer(t)

	for _, path := range []string{"/api/daily-tasks", "/api/transactions", "/api/earnings", "/api/admin/users"} {
		w := do(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := do(t, h, http.MethodGet, "/api/daily-tasks", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", string(decode[errorResponse](t, w).Kind))
}

func TestAdminRoutesForbidUsers(t *testing.T) {
	h := setupTestServer(t)
	user := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodGet, "/api/admin/users", user.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, "/api/transactions/task", user.Token, map[string]any{"amount": 100})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBalanceOwnerOrAdmin(t *testing.T) {
	h := setupTestServer(t)
	alice := registerUser(t, h, "alice", "0700000001")
	bob := registerUser(t, h, "bob", "0700000002")
	admin := registerAdmin(t, h)

	path := fmt.Sprintf("/api/users/%d/balance", alice.User.ID)

	w := do(t, h, http.MethodGet, path, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.UserBalance](t, w).Balance.IsZero())

	w = do(t, h, http.MethodGet, path, bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodGet, path, admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/users/abc/balance", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDepositApproveAndCompleteTask(t *testing.T) {
	h := setupTestServer(t)
	admin := registerAdmin(t, h)
	referrer := registerUser(t, h, "rita", "0700000003")

	w := do(t, h, http.MethodPost, "/api/auth/register", "", models.CreateUserRequest{
		Phone: "0700000001", Username: "alice", Password: "secret123", ReferredBy: referrer.User.ReferralCode,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	alice := decode[models.LoginResponse](t, w)

	w = do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 5000})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 100000, "reference": "MM-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	deposit := decode[transactionResponse](t, w).Transaction
	assert.Equal(t, models.TxPending, deposit.Status)

	w = do(t, h, http.MethodGet, "/api/admin/deposits/pending", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[[]models.PendingTransaction](t, w)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Username)

	approvePath := fmt.Sprintf("/api/admin/deposits/%d/approve", deposit.ID)
	w = do(t, h, http.MethodPost, approvePath, admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, approvePath, admin.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodGet, "/api/daily-tasks", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode[[]models.DailyTask](t, w)
	require.Len(t, tasks, len(service.DefaultTasks))

	completePath := fmt.Sprintf("/api/daily-tasks/%d/complete", tasks[0].ID)
	w = do(t, h, http.MethodPost, completePath, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[service.CompletionResult](t, w)
	assert.True(t, res.Reward.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(100100)))

	w = do(t, h, http.MethodPost, completePath, alice.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodGet, "/api/earnings", referrer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	earnings := decode[models.Earnings](t, w)
	assert.True(t, earnings.TotalFromReferrals.Equal(decimal.NewFromInt(10)))

	w = do(t, h, http.MethodGet, "/api/users/my-team", referrer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	team := decode[[]models.User](t, w)
	require.Len(t, team, 1)
	assert.Equal(t, "alice", team[0].Username)

	w = do(t, h, http.MethodGet, "/api/transactions", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[[]models.Transaction](t, w)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TxTask, txs[0].Type)
}

func TestWithdrawalRequiresDeposit(t *testing.T) {
	h := setupTestServer(t)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, "/api/transactions/withdraw-request", alice.Token, map[string]any{"amount": 60000})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, "/api/transactions/withdraw-request", alice.Token, map[string]any{"amount": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectDepositWithReason(t *testing.T) {
	h := setupTestServer(t)
	admin := registerAdmin(t, h)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 20000})
	require.Equal(t, http.StatusCreated, w.Code)
	deposit := decode[transactionResponse](t, w).Transaction

	w = do(t, h, http.MethodPost, fmt.Sprintf("/api/admin/deposits/%d/reject", deposit.ID), admin.Token, models.RejectRequest{Reason: "no funds received"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[transactionResponse](t, w).Transaction
	assert.Equal(t, models.TxRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "no funds received", *rejected.RejectReason)

	w = do(t, h, http.MethodPost, "/api/admin/deposits/999/reject", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMobileMoneyIPN(t *testing.T) {
	h := setupTestServer(t)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 30000, "reference": "MM-77"})
	require.Equal(t, http.StatusCreated, w.Code)

	ipn := models.MobileMoneyIPN{Reference: "MM-77", Amount: decimal.NewFromInt(30000), Status: "success"}

	w = do(t, h, http.MethodPost, "/api/mobilemoney/ipn", "", ipn)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(ipn))
	req := httptest.NewRequest(http.MethodPost, "/api/mobilemoney/ipn", &buf)
	req.Header.Set(ipnSecretHeader, testIPNSecret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TxApproved, decode[transactionResponse](t, rec).Transaction.Status)

	path := fmt.Sprintf("/api/users/%d/balance", alice.User.ID)
	w = do(t, h, http.MethodGet, path, alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.UserBalance](t, w).Balance.Equal(decimal.NewFromInt(30000)))
}

func TestAdminUserManagement(t *testing.T) {
	h := setupTestServer(t)
	admin := registerAdmin(t, h)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/block", alice.User.ID), admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/auth/login", "", models.LoginRequest{UsernameOrPhone: "alice", Password: "secret123"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/commission", alice.User.ID), admin.Token, map[string]any{"amount": 250, "reason": "promo"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/api/auth/forgot-password", "", models.ForgotPasswordRequest{Phone: "0700000001"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/admin/reset-tokens", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tokens := decode[[]models.ResetTokenInfo](t, w)
	require.Len(t, tokens, 1)

	w = do(t, h, http.MethodPost, "/api/auth/reset-password", "", models.ResetPasswordRequest{
		Phone: "0700000001", Token: tokens[0].Token, NewPassword: "brandnew1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", alice.User.ID), admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/admin/users", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.User](t, w), 1)

	w = do(t, h, http.MethodPost, "/api/admin/daily-tasks/reset", admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	h := setupTestServer(t)
	w := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRejectWithMalformedBodyKeepsPending(t *testing.T) {
	h := setupTestServer(t)
	admin := registerAdmin(t, h)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 20000})
	require.Equal(t, http.StatusCreated, w.Code)
	deposit := decode[transactionResponse](t, w).Transaction
	rejectPath := fmt.Sprintf("/api/admin/deposits/%d/reject", deposit.ID)

	for _, body := range []string{`{"reason": "statement mismatch"`, `{"reason": 42}`, `not json`} {
		w = doRaw(t, h, http.MethodPost, rejectPath, admin.Token, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w = do(t, h, http.MethodGet, "/api/admin/deposits/pending", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[[]models.PendingTransaction](t, w), 1)

	w = doRaw(t, h, http.MethodPost, rejectPath, admin.Token, `{"reason": "statement mismatch"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[transactionResponse](t, w).Transaction
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "statement mismatch", *rejected.RejectReason)
}

func TestRejectWithEmptyBodyUsesDefaultReason(t *testing.T) {
	h := setupTestServer(t)
	admin := registerAdmin(t, h)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 20000})
	require.Equal(t, http.StatusCreated, w.Code)
	deposit := decode[transactionResponse](t, w).Transaction

	w = doRaw(t, h, http.MethodPost, fmt.Sprintf("/api/admin/deposits/%d/reject", deposit.ID), admin.Token, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[transactionResponse](t, w).Transaction
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "No reason provided", *rejected.RejectReason)
}

func TestAmountsAreJSONNumbers(t *testing.T) {
	h := setupTestServer(t)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 20000})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"amount":20000`)
	assert.NotContains(t, w.Body.String(), `"amount":"20000"`)
}

func TestUpdateBalance(t *testing.T) {
	h := setupTestServer(t)
	admin := registerAdmin(t, h)
	alice := registerUser(t, h, "alice", "0700000001")
	path := fmt.Sprintf("/api/users/%d/update-balance", alice.User.ID)

	w := do(t, h, http.MethodPost, path, alice.Token, map[string]any{"amount": 5000, "type": "commission"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodPost, path, admin.Token, map[string]any{"amount": 5000, "type": "commission"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[balanceUpdateResponse](t, w)
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, models.TxCommission, res.Transaction.Type)

	w = do(t, h, http.MethodPost, path, admin.Token, map[string]any{"amount": -6000, "type": "withdrawal"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, path, admin.Token, map[string]any{"amount": 100, "type": "bonus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/users/999/update-balance", admin.Token, map[string]any{"amount": 100, "type": "task"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, fmt.Sprintf("/api/users/%d/balance", alice.User.ID), alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	b := decode[models.UserBalance](t, w)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(5000)))
	assert.True(t, b.CommissionEarned.Equal(decimal.NewFromInt(5000)))
}

func TestPaymentStatusRoute(t *testing.T) {
	var (
		mu      sync.Mutex
		actions []string
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		actions = append(actions, req.Action)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":1,"data":{"status":"PENDING"}}`))
	}))
	t.Cleanup(gateway.Close)

	client := mobilemoney.NewClient(mobilemoney.Config{URL: gateway.URL, Username: "u", Password: "p"}, zaptest.NewLogger(t))
	h := setupTestServerWithGateway(t, client)
	admin := registerAdmin(t, h)
	alice := registerUser(t, h, "alice", "0700000001")
	bob := registerUser(t, h, "bob", "0700000002")

	w := do(t, h, http.MethodPost, "/api/transactions/deposit", alice.Token, map[string]any{"amount": 20000, "reference": "MM-9"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/mobilemoney/status/MM-9", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodGet, "/api/mobilemoney/status/MM-9", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[models.PaymentStatus](t, w)
	assert.Equal(t, models.TxPending, st.Transaction.Status)
	assert.JSONEq(t, `{"status":"PENDING"}`, string(st.Gateway))

	w = do(t, h, http.MethodGet, "/api/mobilemoney/status/MM-9", bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/mobilemoney/status/MM-9", admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"mmdeposit", "mmstatus", "mmstatus"}, actions)
}

func TestPaymentStatusWithoutGateway(t *testing.T) {
	h := setupTestServer(t)
	alice := registerUser(t, h, "alice", "0700000001")

	w := do(t, h, http.MethodGet, "/api/mobilemoney/status/MM-1", alice.Token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
