package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/metrics"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"

	"github.com/go-resty/resty/v2"
)

// RobloxVerifier confirms that a Roblox account bought a tier's game pass.
type RobloxVerifier interface {
	VerifyPurchase(ctx context.Context, username string, tier models.Tier) (*RobloxPurchase, error)
}

// RobloxConfig configures the Roblox public API clients.
type RobloxConfig struct {
	UsersURL     string
	InventoryURL string
	GamePasses   map[string]string
	Timeout      time.Duration
}

// RobloxService checks game pass ownership through the public Roblox APIs.
type RobloxService struct {
	client       *resty.Client
	usersURL     string
	inventoryURL string
	gamePasses   map[models.Tier]string
}

// RobloxPurchase is a verified game pass ownership.
type RobloxPurchase struct {
	UserID     int64
	Username   string
	Tier       models.Tier
	GamePassID string
}

// CorrelationID is stable for a user and game pass, so re-verifying the same
// purchase replays the same payment.
func (p *RobloxPurchase) CorrelationID() string {
	return fmt.Sprintf("roblox-%d-%s", p.UserID, p.GamePassID)
}

// NewRobloxService creates a new Roblox verifier
func NewRobloxService(cfg RobloxConfig) *RobloxService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	passes := make(map[models.Tier]string)
	for tier, id := range cfg.GamePasses {
		if t, ok := models.ParseTier(tier); ok && id != "" {
			passes[t] = id
		}
	}

	return &RobloxService{
		client:       resty.New().SetTimeout(timeout),
		usersURL:     strings.TrimRight(cfg.UsersURL, "/"),
		inventoryURL: strings.TrimRight(cfg.InventoryURL, "/"),
		gamePasses:   passes,
	}
}

type robloxUsersResponse struct {
	Data []struct {
		ID                int64  `json:"id"`
		Name              string `json:"name"`
		RequestedUsername string `json:"requestedUsername"`
	} `json:"data"`
}

type robloxInventoryResponse struct {
	Data []json.RawMessage `json:"data"`
}

// VerifyPurchase resolves the username and checks the game pass of the given
// tier, or every tier from the most valuable down when tier is empty.
func (s *RobloxService) VerifyPurchase(ctx context.Context, username string, tier models.Tier) (*RobloxPurchase, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.Validation("Username is required")
	}

	tiers := models.Tiers
	if tier != "" {
		tiers = []models.Tier{tier}
	}

	userID, name, err := s.resolveUser(ctx, username)
	if err != nil {
		return nil, err
	}

	for _, t := range tiers {
		passID, ok := s.gamePasses[t]
		if !ok {
			continue
		}
		owns, err := s.ownsGamePass(ctx, userID, passID)
		if err != nil {
			return nil, err
		}
		if owns {
			logging.Infof("Roblox game pass verified - user: %s (%d), tier: %s, game_pass: %s", name, userID, t, passID)
			return &RobloxPurchase{UserID: userID, Username: name, Tier: t, GamePassID: passID}, nil
		}
	}

	return nil, apperrors.NotFound("No game pass purchase found for this user")
}

func (s *RobloxService) resolveUser(ctx context.Context, username string) (int64, string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"usernames":          []string{username},
			"excludeBannedUsers": true,
		}).
		Post(s.usersURL + "/v1/usernames/users")
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("roblox", "users", "error").Inc()
		return 0, "", apperrors.Gateway(fmt.Errorf("roblox user lookup: %w", err), "ROBLOX_UNAVAILABLE")
	}
	metrics.GatewayCalls.WithLabelValues("roblox", "users", strconv.Itoa(resp.StatusCode())).Inc()
	if !resp.IsSuccess() {
		return 0, "", apperrors.Gateway(fmt.Errorf("roblox user lookup: status %d", resp.StatusCode()), "ROBLOX_UNAVAILABLE")
	}

	var users robloxUsersResponse
	if err := json.Unmarshal(resp.Body(), &users); err != nil {
		return 0, "", apperrors.Gateway(fmt.Errorf("roblox user lookup: decode: %w", err), "ROBLOX_UNAVAILABLE")
	}
	if len(users.Data) == 0 {
		return 0, "", apperrors.NotFound("Roblox user not found")
	}

	return users.Data[0].ID, users.Data[0].Name, nil
}

func (s *RobloxService) ownsGamePass(ctx context.Context, userID int64, gamePassID string) (bool, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"userID":     strconv.FormatInt(userID, 10),
			"gamePassID": gamePassID,
		}).
		Get(s.inventoryURL + "/v1/users/{userID}/items/GamePass/{gamePassID}")
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("roblox", "inventory", "error").Inc()
		return false, apperrors.Gateway(fmt.Errorf("roblox inventory: %w", err), "ROBLOX_UNAVAILABLE")
	}
	metrics.GatewayCalls.WithLabelValues("roblox", "inventory", strconv.Itoa(resp.StatusCode())).Inc()
	if !resp.IsSuccess() {
		return false, apperrors.Gateway(fmt.Errorf("roblox inventory: status %d", resp.StatusCode()), "ROBLOX_UNAVAILABLE")
	}

	var inv robloxInventoryResponse
	if err := json.Unmarshal(resp.Body(), &inv); err != nil {
		return false, apperrors.Gateway(fmt.Errorf("roblox inventory: decode: %w", err), "ROBLOX_UNAVAILABLE")
	}
	return len(inv.Data) > 0, nil
}
