package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/metrics"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// tokenSafetyMargin is subtracted from the token lifetime so a cached token is
// never presented right as it expires.
const tokenSafetyMargin = 300 * time.Second

// PaymentGateway creates and captures provider orders.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*CreatedOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (json.RawMessage, error)
	ExtractPaymentInfo(capture json.RawMessage) (*PaymentInfo, error)
}

// PayPalConfig configures the PayPal REST client.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	BrandName    string
	Timeout      time.Duration
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// PayPalService talks to the PayPal Orders v2 API. The access token is cached
// on the instance; concurrent refreshes are collapsed and the last one wins.
type PayPalService struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	brandName    string
	timeout      time.Duration

	mu      sync.RWMutex
	token   accessToken
	refresh singleflight.Group

	now func() time.Time
}

// NewPayPalService creates a new PayPal gateway instance
func NewPayPalService(cfg PayPalConfig) *PayPalService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &PayPalService{
		client:       resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		brandName:    cfg.BrandName,
		timeout:      timeout,
		now:          time.Now,
	}
}

// OrderRequest describes an order whose amount was already priced server side.
type OrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Tier        models.Tier
	ReturnURL   string
	CancelURL   string
}

// CreatedOrder is the parsed part of an order creation response.
type CreatedOrder struct {
	ID         string                 `json:"id"`
	Status     string                 `json:"status"`
	ApproveURL string                 `json:"approve_url"`
	Raw        map[string]interface{} `json:"raw"`
}

// PaymentInfo is the canonical projection of a capture payload.
type PaymentInfo struct {
	TransactionID string
	OrderID       string
	PayerEmail    string
	Tier          models.Tier
	TierFallback  bool
	Amount        decimal.Decimal
	Currency      string
	Status        models.PaymentStatus
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type amountValue struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type captureOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		EmailAddress string `json:"email_address"`
		PayerID      string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Payments struct {
			Captures []struct {
				ID       string      `json:"id"`
				Status   string      `json:"status"`
				CustomID string      `json:"custom_id"`
				Amount   amountValue `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// AccessToken returns a cached bearer token, exchanging client credentials when
// the cached one is missing or inside the safety margin. The exchange is shared
// by concurrent callers and runs detached from any single caller's context.
func (s *PayPalService) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token.value != "" && s.now().Before(token.expiresAt) {
		logging.Debugf("PayPal token cache hit - expires_at: %s", token.expiresAt.Format(time.RFC3339))
		return token.value, nil
	}

	ch := s.refresh.DoChan("token", func() (interface{}, error) {
		logging.Debugf("PayPal token refresh started")
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.fetchToken(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *PayPalService) fetchToken(ctx context.Context) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.clientID, s.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post("/v1/oauth2/token")
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("paypal", "token", "error").Inc()
		return "", apperrors.Gateway(fmt.Errorf("paypal token request: %w", err), "")
	}
	metrics.GatewayCalls.WithLabelValues("paypal", "token", strconv.Itoa(resp.StatusCode())).Inc()
	if !resp.IsSuccess() {
		return "", gatewayErrorFromResponse("token", resp)
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.AccessToken == "" {
		return "", apperrors.Gateway(fmt.Errorf("paypal token response: invalid body"), "")
	}

	token := accessToken{
		value:     body.AccessToken,
		expiresAt: s.now().Add(time.Duration(body.ExpiresIn)*time.Second - tokenSafetyMargin),
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	return token.value, nil
}

// CreateOrder creates a CAPTURE intent order carrying the tier as custom_id.
func (s *PayPalService) CreateOrder(ctx context.Context, req OrderRequest) (*CreatedOrder, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"amount": amountValue{
					CurrencyCode: req.Currency,
					Value:        req.Amount.StringFixed(2),
				},
				"description": req.Description,
				"custom_id":   string(req.Tier),
			},
		},
		"application_context": map[string]interface{}{
			"brand_name":  s.brandName,
			"user_action": "PAY_NOW",
			"return_url":  req.ReturnURL,
			"cancel_url":  req.CancelURL,
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("PayPal-Request-Id", uuid.NewString()).
		SetBody(payload).
		Post("/v2/checkout/orders")
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("paypal", "create_order", "error").Inc()
		return nil, apperrors.Gateway(fmt.Errorf("paypal create order: %w", err), "")
	}
	metrics.GatewayCalls.WithLabelValues("paypal", "create_order", strconv.Itoa(resp.StatusCode())).Inc()
	if !resp.IsSuccess() {
		return nil, gatewayErrorFromResponse("create order", resp)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, apperrors.Gateway(fmt.Errorf("paypal create order: decode response: %w", err), "")
	}

	order := &CreatedOrder{Raw: raw}
	order.ID, _ = raw["id"].(string)
	order.Status, _ = raw["status"].(string)
	if links, ok := raw["links"].([]interface{}); ok {
		for _, l := range links {
			link, _ := l.(map[string]interface{})
			if rel, _ := link["rel"].(string); rel == "approve" || rel == "payer-action" {
				order.ApproveURL, _ = link["href"].(string)
				break
			}
		}
	}

	logging.Infof("PayPal order created - order_id: %s, tier: %s, amount: %s %s",
		order.ID, req.Tier, req.Amount.StringFixed(2), req.Currency)
	return order, nil
}

// CaptureOrder captures an approved order and returns the raw capture payload.
// A rejected capture is final for that order id.
func (s *PayPalService) CaptureOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	if orderID == "" {
		return nil, apperrors.Validation("Order ID is required")
	}

	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("PayPal-Request-Id", "capture-"+orderID).
		SetPathParam("orderID", orderID).
		Post("/v2/checkout/orders/{orderID}/capture")
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("paypal", "capture", "error").Inc()
		return nil, apperrors.Gateway(fmt.Errorf("paypal capture %s: %w", orderID, err), "")
	}
	metrics.GatewayCalls.WithLabelValues("paypal", "capture", strconv.Itoa(resp.StatusCode())).Inc()
	if !resp.IsSuccess() {
		return nil, gatewayErrorFromResponse("capture "+orderID, resp)
	}

	return json.RawMessage(resp.Body()), nil
}

// ExtractPaymentInfo projects a capture payload onto the fields fulfillment needs.
// The transaction id is the capture id, not the order id. The tier comes from
// the capture custom_id, then the purchase unit custom_id, then defaults to weekly.
func (s *PayPalService) ExtractPaymentInfo(capture json.RawMessage) (*PaymentInfo, error) {
	var data captureOrderResponse
	if err := json.Unmarshal(capture, &data); err != nil {
		return nil, apperrors.Gateway(fmt.Errorf("decode capture payload: %w", err), "")
	}
	if len(data.PurchaseUnits) == 0 || len(data.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, apperrors.Gateway(errors.New("capture payload has no captures"), "MISSING_CAPTURE")
	}

	unit := data.PurchaseUnits[0]
	cap0 := unit.Payments.Captures[0]
	if cap0.ID == "" {
		return nil, apperrors.Gateway(errors.New("capture payload has no capture id"), "MISSING_CAPTURE")
	}

	info := &PaymentInfo{
		TransactionID: cap0.ID,
		OrderID:       data.ID,
		PayerEmail:    models.NormalizeEmail(data.Payer.EmailAddress),
		Currency:      cap0.Amount.CurrencyCode,
		Status:        captureStatus(cap0.Status),
	}

	if amount, err := decimal.NewFromString(cap0.Amount.Value); err == nil {
		info.Amount = amount
	}

	if tier, ok := models.ParseTier(cap0.CustomID); ok {
		info.Tier = tier
	} else if tier, ok := models.ParseTier(unit.CustomID); ok {
		info.Tier = tier
	} else {
		info.Tier = models.TierWeekly
		info.TierFallback = true
		logging.Warnf("PayPal capture has no usable custom_id, defaulting tier to weekly - order_id: %s, capture_id: %s, capture_custom_id: %q, unit_custom_id: %q",
			data.ID, cap0.ID, cap0.CustomID, unit.CustomID)
	}

	return info, nil
}

func captureStatus(status string) models.PaymentStatus {
	switch status {
	case "COMPLETED":
		return models.PaymentCompleted
	case "DECLINED", "FAILED":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

// gatewayErrorFromResponse keeps the upstream status and body in the wrapped error
// and exposes only the PayPal issue code to clients.
func gatewayErrorFromResponse(op string, resp *resty.Response) error {
	var perr paypalError
	_ = json.Unmarshal(resp.Body(), &perr)

	issue := perr.Name
	if len(perr.Details) > 0 && perr.Details[0].Issue != "" {
		issue = perr.Details[0].Issue
	}
	if issue == "" {
		issue = perr.Error
	}

	err := fmt.Errorf("paypal %s: status %d: %s", op, resp.StatusCode(), truncate(string(resp.Body()), 512))
	logging.Errorf("PayPal %s failed - status: %d, issue: %s, debug_id: %s", op, resp.StatusCode(), issue, perr.DebugID)
	return apperrors.Gateway(err, issue)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
