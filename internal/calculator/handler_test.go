package calculator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadaka-platform/zakat"
	"github.com/sadaka-platform/zakat/internal/backend"
	"github.com/sadaka-platform/zakat/internal/nisab"
)

type BackendMock struct {
	calc       backend.Calculation
	history    []backend.Calculation
	payment    backend.PaymentResponse
	err        error
	gotUserID  int64
	gotInputs  zakat.Inputs
	gotMethod  string
	gotPayment string
}

func (b *BackendMock) Calculate(ctx context.Context, userID int64, in zakat.Inputs) (backend.Calculation, error) {
	b.gotUserID = userID
	b.gotInputs = in
	return b.calc, b.err
}

func (b *BackendMock) Pay(ctx context.Context, zakatID int64, paymentMethod string) (backend.PaymentResponse, error) {
	b.gotMethod = paymentMethod
	return b.payment, b.err
}

func (b *BackendMock) ConfirmPayment(ctx context.Context, zakatID int64, paymentID string) error {
	b.gotPayment = paymentID
	return b.err
}

func (b *BackendMock) History(ctx context.Context, userID int64) ([]backend.Calculation, error) {
	b.gotUserID = userID
	return b.history, b.err
}

func newTestRouter(b Backend, devUserID int64) http.Handler {
	h := NewHandler(nisab.Static(nisab.Default()), b, 5*time.Second, nil)
	return NewRouter(h, RouterConfig{
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
		DevUserID:      devUserID,
	})
}

func do(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) zakat.Result {
	t.Helper()
	var result zakat.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	return result
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(nil, 0), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetNisab(t *testing.T) {
	rec := do(t, newTestRouter(nil, 0), http.MethodGet, "/api/v1/zakat/nisab", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info nisab.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "952389", info.NisabAmount.String())
	assert.Equal(t, "RUB", info.Currency)
	assert.Equal(t, "0.025", info.ZakatRate.String())
}

func TestPreview(t *testing.T) {
	router := newTestRouter(nil, 0)

	t.Run("above nisab", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", `{"bank_accounts": 2000000}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		result := decodeResult(t, rec)
		assert.True(t, result.ExceedsNisab)
		assert.Equal(t, "50000", result.ZakatAmount.String())
		assert.Equal(t, "952389", result.NisabAmount.String())
	})

	t.Run("string values and nulls", func(t *testing.T) {
		body := `{"cash_at_home": "100 000", "bank_accounts": "500000", "debts": null}`
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		result := decodeResult(t, rec)
		assert.Equal(t, "600000", result.TotalAssets.String())
		assert.False(t, result.ExceedsNisab)
		assert.True(t, result.ZakatAmount.IsZero())
	})

	t.Run("exactly nisab", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", `{"bank_accounts": "952389"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		result := decodeResult(t, rec)
		assert.False(t, result.ExceedsNisab)
		assert.True(t, result.ZakatAmount.IsZero())
	})

	t.Run("negative rejected", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", `{"cash_at_home": -5, "debts": "x"}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "invalid_input", resp.Code)
		require.Len(t, resp.Details, 2)
		assert.Equal(t, "cash_at_home", resp.Details[0].Field)
		assert.Equal(t, "debts", resp.Details[1].Field)
	})

	t.Run("boolean value rejected", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", `{"cash_at_home": true}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", `{`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCalculate_Success(t *testing.T) {
	b := &BackendMock{calc: backend.Calculation{ID: 11, ZakatAmount: decimal.NewFromInt(50000)}}
	router := newTestRouter(b, 0)

	initData := url.Values{}
	initData.Set("user", `{"id": 42, "first_name": "Amina"}`)
	headers := map[string]string{InitDataHeader: initData.Encode()}

	body := `{"fields": {"bank_accounts": "2000000"}, "accepted_terms": true}`
	rec := do(t, router, http.MethodPost, "/api/v1/zakat/calc", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, int64(42), b.gotUserID)
	assert.Equal(t, "2000000", b.gotInputs.BankAccounts.String())

	var resp CalculateResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(11), resp.Calculation.ID)
	assert.True(t, resp.Preview.ExceedsNisab)
	assert.Equal(t, "50000", resp.Preview.ZakatAmount.String())
}

func TestCalculate_Errors(t *testing.T) {
	valid := `{"fields": {"bank_accounts": "2000000"}, "accepted_terms": true}`

	tests := []struct {
		name       string
		backend    Backend
		devUser    int64
		headers    map[string]string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no user",
			backend:    &BackendMock{},
			body:       valid,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "malformed init data",
			backend:    &BackendMock{},
			headers:    map[string]string{InitDataHeader: "user=%7Bbroken"},
			body:       valid,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_init_data",
		},
		{
			name:       "terms not accepted",
			backend:    &BackendMock{},
			devUser:    1,
			body:       `{"fields": {"bank_accounts": "2000000"}}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "terms_not_accepted",
		},
		{
			name:       "invalid field",
			backend:    &BackendMock{},
			devUser:    1,
			body:       `{"fields": {"bank_accounts": "-1"}, "accepted_terms": true}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_input",
		},
		{
			name:       "no backend",
			devUser:    1,
			body:       valid,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "backend_not_configured",
		},
		{
			name:       "backend down",
			backend:    &BackendMock{err: errors.New("dial tcp: connection refused")},
			devUser:    1,
			body:       valid,
			wantStatus: http.StatusBadGateway,
			wantCode:   "backend_unavailable",
		},
		{
			name:       "backend rejects",
			backend:    &BackendMock{err: &backend.APIError{StatusCode: http.StatusNotFound, Detail: "User not found"}},
			devUser:    1,
			body:       valid,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.backend, tt.devUser)
			rec := do(t, router, http.MethodPost, "/api/v1/zakat/calc", tt.body, tt.headers)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestCalculate_BackendDownIsRetryable(t *testing.T) {
	router := newTestRouter(&BackendMock{err: errors.New("timeout")}, 1)

	rec := do(t, router, http.MethodPost, "/api/v1/zakat/calc", `{"fields": {}, "accepted_terms": true}`, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Retryable)
}

func TestHistory(t *testing.T) {
	t.Run("returns backend history", func(t *testing.T) {
		b := &BackendMock{history: []backend.Calculation{{ID: 2}, {ID: 1}}}
		rec := do(t, newTestRouter(b, 9), http.MethodGet, "/api/v1/zakat/history", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got []backend.Calculation
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[0].ID)
		assert.Equal(t, int64(9), b.gotUserID)
	})

	t.Run("empty history is an empty array", func(t *testing.T) {
		rec := do(t, newTestRouter(&BackendMock{}, 9), http.MethodGet, "/api/v1/zakat/history", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestPay(t *testing.T) {
	t.Run("default method", func(t *testing.T) {
		b := &BackendMock{payment: backend.PaymentResponse{ZakatID: 5, PaymentURL: "https://pay.example/5", Status: "pending"}}
		rec := do(t, newTestRouter(b, 1), http.MethodPost, "/api/v1/zakat/5/pay", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, DefaultPaymentMethod, b.gotMethod)

		var got backend.PaymentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "https://pay.example/5", got.PaymentURL)
	})

	t.Run("explicit method", func(t *testing.T) {
		b := &BackendMock{}
		rec := do(t, newTestRouter(b, 1), http.MethodPost, "/api/v1/zakat/5/pay", `{"payment_method": "cloudpayments"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cloudpayments", b.gotMethod)
	})

	t.Run("already paid", func(t *testing.T) {
		b := &BackendMock{err: &backend.APIError{StatusCode: http.StatusBadRequest, Detail: "Zakat already paid"}}
		rec := do(t, newTestRouter(b, 1), http.MethodPost, "/api/v1/zakat/5/pay", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "backend_rejected", resp.Code)
		assert.Equal(t, "Zakat already paid", resp.Error)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := do(t, newTestRouter(&BackendMock{}, 1), http.MethodPost, "/api/v1/zakat/abc/pay", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConfirmPayment(t *testing.T) {
	b := &BackendMock{}
	router := newTestRouter(b, 1)

	rec := do(t, router, http.MethodPost, "/api/v1/zakat/5/confirm", `{"payment_id": "pay-77"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pay-77", b.gotPayment)
	assert.JSONEq(t, `{"zakat_id": 5, "is_paid": true}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/v1/zakat/5/confirm", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaxBodySize(t *testing.T) {
	h := NewHandler(nisab.Static(nisab.Default()), nil, time.Second, nil)
	router := NewRouter(h, RouterConfig{MaxBodyBytes: 16})

	body := bytes.Repeat([]byte(" "), 64)
	body = append(body, []byte(`{"bank_accounts": 1}`)...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/zakat/preview", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreview_OutOfRangeAmounts(t *testing.T) {
	router := newTestRouter(nil, 0)

	tests := []struct {
		name string
		body string
	}{
		{name: "huge exponent string", body: `{"cash_at_home":"1e30000000","bank_accounts":"0.01"}`},
		{name: "huge exponent number", body: `{"cash_at_home":1e30000000,"bank_accounts":"0.01"}`},
		{name: "tiny exponent", body: `{"cash_at_home":"1e-9999999","bank_accounts":"0.01"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Less(t, rec.Body.Len(), 1024)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "invalid_input", resp.Code)
			require.Len(t, resp.Details, 1)
			assert.Equal(t, "cash_at_home", resp.Details[0].Field)
			assert.Equal(t, "out of range", resp.Details[0].Reason)
		})
	}
}

type nisabFetcherMock struct {
	calls atomic.Int32
	resp  backend.NisabResponse
	err   error
}

func (f *nisabFetcherMock) Nisab(ctx context.Context) (backend.NisabResponse, error) {
	f.calls.Add(1)
	return f.resp, f.err
}

func TestNisab_ResolvedPerMiniAppSession(t *testing.T) {
	f := &nisabFetcherMock{resp: backend.NisabResponse{
		NisabAmount: decimal.NewFromInt(1000000),
		Currency:    "RUB",
		ZakatRate:   decimal.RequireFromString("0.025"),
	}}
	remote := nisab.NewRemote(f, nisab.WithStrict(), nisab.WithBreaker(2, time.Minute))
	fallback := nisab.FromConfig(zakat.DefaultConfig().WithNisab(decimal.NewFromInt(800000)))
	h := NewHandler(nisab.NewSessions(remote, fallback, time.Hour, nil), nil, 5*time.Second, nil)
	router := NewRouter(h, RouterConfig{RequestTimeout: 5 * time.Second})

	launch := func(queryID string) map[string]string {
		initData := url.Values{}
		initData.Set("query_id", queryID)
		initData.Set("user", `{"id": 42, "first_name": "Amina"}`)
		return map[string]string{InitDataHeader: initData.Encode()}
	}
	preview := func(headers map[string]string) zakat.Result {
		rec := do(t, router, http.MethodPost, "/api/v1/zakat/preview", `{"bank_accounts": "900000"}`, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeResult(t, rec)
	}

	first := launch("AAA")
	rec := do(t, router, http.MethodGet, "/api/v1/zakat/nisab", "", first)
	require.Equal(t, http.StatusOK, rec.Code)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "1000000", preview(first).NisabAmount.String())
	}
	assert.Equal(t, int32(1), f.calls.Load(), "one fetch per session")

	assert.Equal(t, "1000000", preview(launch("BBB")).NisabAmount.String())
	assert.Equal(t, int32(2), f.calls.Load(), "a new session fetches again")

	f.err = errors.New("connection refused")
	for _, id := range []string{"CCC", "DDD", "EEE", "FFF"} {
		result := preview(launch(id))
		assert.Equal(t, "800000", result.NisabAmount.String())
		assert.True(t, result.ExceedsNisab)
	}
	assert.Equal(t, int32(4), f.calls.Load(), "open breaker short-circuits later sessions")

	assert.Equal(t, "1000000", preview(first).NisabAmount.String(), "resolved sessions keep their nisab")
}
