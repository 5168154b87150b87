package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paypalStub struct {
	tokenCalls int32
	expiresIn  int64

	mu        sync.Mutex
	orderBody map[string]interface{}
	requestID string
}

func (p *paypalStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		n := atomic.AddInt32(&p.tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-" + string(rune('0'+n)),
			"expires_in":   p.expiresIn,
		})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.orderBody = map[string]interface{}{}
		json.Unmarshal(body, &p.orderBody)
		p.requestID = r.Header.Get("PayPal-Request-Id")
		p.mu.Unlock()

		assert.Contains(t, r.Header.Get("Authorization"), "Bearer token-")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"ORDER-1","status":"CREATED","links":[
			{"rel":"self","href":"https://api.example/v2/checkout/orders/ORDER-1"},
			{"rel":"approve","href":"https://www.example/checkoutnow?token=ORDER-1"}]}`)
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "capture-ORDER-1", r.Header.Get("PayPal-Request-Id"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, captureFixture)
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-BAD/capture", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED","description":"declined"}],"debug_id":"abc"}`)
	})
	return mux
}

const captureFixture = `{
	"id": "ORDER-1",
	"status": "COMPLETED",
	"payer": {"email_address": "Buyer@Example.com", "payer_id": "P1"},
	"purchase_units": [{
		"custom_id": "weekly",
		"payments": {"captures": [{
			"id": "CAPTURE-1",
			"status": "COMPLETED",
			"custom_id": "lifetime",
			"amount": {"currency_code": "EUR", "value": "49.99"}
		}]}
	}]
}`

func newPayPalFixture(t *testing.T) (*PayPalService, *paypalStub, *time.Time) {
	t.Helper()
	stub := &paypalStub{expiresIn: 32400}
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewPayPalService(PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      server.URL,
		BrandName:    "Keyshop",
		Timeout:      5 * time.Second,
	})
	svc.now = func() time.Time { return now }
	return svc, stub, &now
}

func TestAccessTokenIsCached(t *testing.T) {
	svc, stub, _ := newPayPalFixture(t)
	ctx := context.Background()

	first, err := svc.AccessToken(ctx)
	require.NoError(t, err)
	second, err := svc.AccessToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&stub.tokenCalls))
}

func TestAccessTokenRefreshesInsideSafetyMargin(t *testing.T) {
	svc, stub, now := newPayPalFixture(t)
	stub.expiresIn = 600
	ctx := context.Background()

	_, err := svc.AccessToken(ctx)
	require.NoError(t, err)

	*now = now.Add(299 * time.Second)
	_, err = svc.AccessToken(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&stub.tokenCalls))

	// 600s lifetime minus the 300s margin.
	*now = now.Add(time.Second)
	_, err = svc.AccessToken(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&stub.tokenCalls))
}

func TestCreateOrderCarriesTier(t *testing.T) {
	svc, stub, _ := newPayPalFixture(t)

	order, err := svc.CreateOrder(context.Background(), OrderRequest{
		Amount:      decimal.RequireFromString("14.99"),
		Currency:    "EUR",
		Description: "Monthly access",
		Tier:        models.TierMonthly,
	})
	require.NoError(t, err)

	assert.Equal(t, "ORDER-1", order.ID)
	assert.Equal(t, "CREATED", order.Status)
	assert.Equal(t, "https://www.example/checkoutnow?token=ORDER-1", order.ApproveURL)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "CAPTURE", stub.orderBody["intent"])
	units := stub.orderBody["purchase_units"].([]interface{})
	unit := units[0].(map[string]interface{})
	assert.Equal(t, "monthly", unit["custom_id"])
	assert.Equal(t, "14.99", unit["amount"].(map[string]interface{})["value"])
	assert.NotEmpty(t, stub.requestID)
}

func TestCaptureOrderAndExtract(t *testing.T) {
	svc, _, _ := newPayPalFixture(t)

	raw, err := svc.CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)

	info, err := svc.ExtractPaymentInfo(raw)
	require.NoError(t, err)
	assert.Equal(t, "CAPTURE-1", info.TransactionID)
	assert.Equal(t, "ORDER-1", info.OrderID)
	assert.Equal(t, "buyer@example.com", info.PayerEmail)
	assert.Equal(t, models.TierLifetime, info.Tier, "capture custom_id wins")
	assert.False(t, info.TierFallback)
	assert.True(t, info.Amount.Equal(decimal.RequireFromString("49.99")))
	assert.Equal(t, "EUR", info.Currency)
	assert.Equal(t, models.PaymentCompleted, info.Status)
}

func TestCaptureOrderDeclined(t *testing.T) {
	svc, _, _ := newPayPalFixture(t)

	_, err := svc.CaptureOrder(context.Background(), "ORDER-BAD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGateway))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, map[string]string{"issue": "INSTRUMENT_DECLINED"}, appErr.Details)
}

func TestExtractPaymentInfoTierFallback(t *testing.T) {
	svc := NewPayPalService(PayPalConfig{})

	tests := []struct {
		name     string
		payload  string
		tier     models.Tier
		fallback bool
	}{
		{
			name:    "purchase unit custom_id",
			payload: `{"id":"O","purchase_units":[{"custom_id":"Monthly","payments":{"captures":[{"id":"C","status":"COMPLETED","amount":{"currency_code":"EUR","value":"1.00"}}]}}]}`,
			tier:    models.TierMonthly,
		},
		{
			name:     "missing custom_id",
			payload:  `{"id":"O","purchase_units":[{"payments":{"captures":[{"id":"C","status":"PENDING","amount":{"currency_code":"EUR","value":"1.00"}}]}}]}`,
			tier:     models.TierWeekly,
			fallback: true,
		},
		{
			name:     "unknown custom_id",
			payload:  `{"id":"O","purchase_units":[{"custom_id":"daily","payments":{"captures":[{"id":"C","custom_id":"yearly","amount":{"currency_code":"EUR","value":"1.00"}}]}}]}`,
			tier:     models.TierWeekly,
			fallback: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := svc.ExtractPaymentInfo(json.RawMessage(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.tier, info.Tier)
			assert.Equal(t, tt.fallback, info.TierFallback)
		})
	}

	_, err := svc.ExtractPaymentInfo(json.RawMessage(`{"id":"O","purchase_units":[]}`))
	assert.True(t, errors.Is(err, apperrors.ErrGateway))
}

func TestAccessTokenRefreshSurvivesCancelledCaller(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(arrived)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"shared-token","expires_in":3600}`)
	}))
	defer srv.Close()

	svc := NewPayPalService(PayPalConfig{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.AccessToken(ctx)
		firstErr <- err
	}()
	<-arrived

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		token, err := svc.AccessToken(context.Background())
		second <- result{token, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "shared-token", res.token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	token, err := svc.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shared-token", token)
}
