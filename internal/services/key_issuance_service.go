package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"keyshop-api/internal/metrics"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// KeyIssuer generates keys for a purchase.
type KeyIssuer interface {
	GenerateKey(ctx context.Context, req KeyRequest) IssuanceResult
}

// KeyIssuanceConfig configures the key webhook client.
type KeyIssuanceConfig struct {
	DefaultURL string
	TierURLs   map[string]string
	Secret     string
	Timeout    time.Duration
}

// KeyIssuanceService posts signed key requests to the external key system.
type KeyIssuanceService struct {
	client     *resty.Client
	defaultURL string
	tierURLs   map[string]string
	secret     string
	now        func() time.Time
}

// NewKeyIssuanceService creates a new key webhook client
func NewKeyIssuanceService(cfg KeyIssuanceConfig) *KeyIssuanceService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &KeyIssuanceService{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Keyshop-Webhook/1.0"),
		defaultURL: cfg.DefaultURL,
		tierURLs:   cfg.TierURLs,
		secret:     cfg.Secret,
		now:        time.Now,
	}
}

// KeyRequest describes who bought what.
type KeyRequest struct {
	Tier     models.Tier
	Quantity int
	User     KeyUser
	Payment  KeyPayment
}

type KeyUser struct {
	Email          string `json:"email,omitempty"`
	RobloxUsername string `json:"roblox_username,omitempty"`
	RobloxUserID   string `json:"roblox_user_id,omitempty"`
}

type KeyPayment struct {
	TransactionID string `json:"transaction_id"`
	Channel       string `json:"channel"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

type keyItem struct {
	Tier     string `json:"tier"`
	Quantity int    `json:"quantity"`
}

// keyWebhookPayload is the body sent to the key system
type keyWebhookPayload struct {
	Item     keyItem           `json:"item"`
	User     KeyUser           `json:"user"`
	Payment  KeyPayment        `json:"payment"`
	Metadata map[string]string `json:"metadata"`
}

// IssuanceResult is returned instead of an error; callers branch on Success.
type IssuanceResult struct {
	Success    bool     `json:"success"`
	Keys       []string `json:"keys"`
	StatusCode int      `json:"status_code,omitempty"`
	Body       string   `json:"body,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// GenerateKey calls the tier's webhook once. Timeouts, non-2xx responses and
// unreadable bodies all produce Success=false with zero keys.
func (s *KeyIssuanceService) GenerateKey(ctx context.Context, req KeyRequest) IssuanceResult {
	start := time.Now()
	result := s.generateKey(ctx, req)

	metrics.KeyIssuanceDuration.WithLabelValues(string(req.Tier)).Observe(time.Since(start).Seconds())
	if result.Success {
		metrics.KeyIssuance.WithLabelValues(string(req.Tier), "success").Inc()
		logging.Infof("Keys issued - transaction: %s, tier: %s, count: %d",
			req.Payment.TransactionID, req.Tier, len(result.Keys))
	} else {
		metrics.KeyIssuance.WithLabelValues(string(req.Tier), "failure").Inc()
		logging.Errorf("Key issuance failed - transaction: %s, tier: %s, status: %d, error: %s",
			req.Payment.TransactionID, req.Tier, result.StatusCode, result.Error)
	}
	return result
}

func (s *KeyIssuanceService) generateKey(ctx context.Context, req KeyRequest) IssuanceResult {
	endpoint := s.endpoint(req.Tier)
	if endpoint == "" {
		return IssuanceResult{Error: fmt.Sprintf("no key webhook configured for tier %s", req.Tier)}
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	payload := keyWebhookPayload{
		Item:    keyItem{Tier: string(req.Tier), Quantity: quantity},
		User:    req.User,
		Payment: req.Payment,
		Metadata: map[string]string{
			"source":       "keyshop",
			"requested_at": s.now().UTC().Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return IssuanceResult{Error: fmt.Sprintf("failed to marshal payload: %v", err)}
	}

	r := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if s.secret != "" {
		r.SetHeader(SignatureHeader, SignPayload(body, s.secret))
	}

	resp, err := r.Post(endpoint)
	if err != nil {
		return IssuanceResult{Error: fmt.Sprintf("failed to send request: %v", err)}
	}

	respBody := string(resp.Body())
	if !resp.IsSuccess() {
		return IssuanceResult{
			StatusCode: resp.StatusCode(),
			Body:       truncate(respBody, 1024),
			Error:      fmt.Sprintf("unexpected status code: %d", resp.StatusCode()),
		}
	}

	keys, err := NormalizeKeys(resp.Body())
	if err != nil {
		return IssuanceResult{StatusCode: resp.StatusCode(), Body: truncate(respBody, 1024), Error: err.Error()}
	}
	if len(keys) == 0 {
		return IssuanceResult{StatusCode: resp.StatusCode(), Body: truncate(respBody, 1024), Error: "key webhook returned no keys"}
	}

	return IssuanceResult{Success: true, Keys: keys, StatusCode: resp.StatusCode()}
}

func (s *KeyIssuanceService) endpoint(tier models.Tier) string {
	if url := s.tierURLs[string(tier)]; url != "" {
		return url
	}
	return s.defaultURL
}

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeKeys decodes the webhook body, trying in order: a JSON string,
// an object with "key", an object with "keys", a JSON array. A body that is
// not JSON at all is taken as a single plain text key.
func NormalizeKeys(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty key webhook response")
	}

	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return compactKeys([]string{single}), nil
	}

	var object struct {
		Key  *string  `json:"key"`
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(trimmed, &object); err == nil {
		if object.Key != nil && strings.TrimSpace(*object.Key) != "" {
			return compactKeys([]string{*object.Key}), nil
		}
		if object.Keys != nil {
			return compactKeys(object.Keys), nil
		}
		return nil, errors.New("key webhook response has neither key nor keys")
	}

	var list []string
	if err := json.Unmarshal(trimmed, &list); err == nil {
		return compactKeys(list), nil
	}

	if !json.Valid(trimmed) {
		return compactKeys([]string{string(trimmed)}), nil
	}

	return nil, errors.New("unrecognized key webhook response")
}

func compactKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
