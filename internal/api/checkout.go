package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"
	"keyshop-api/internal/response"
	"keyshop-api/internal/services"
	"keyshop-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const robuxCurrency = "ROBUX"

// TierPrice is the price of one tier including tax for a country
type TierPrice struct {
	Tier     models.Tier `json:"tier"`
	Currency string      `json:"currency"`
	services.TaxBreakdown
	RobuxPrice decimal.Decimal `json:"robux_price"`
}

// CreateOrderRequest represents create PayPal order request
type CreateOrderRequest struct {
	Tier    string `json:"tier" binding:"required,tier"`
	Country string `json:"country" binding:"omitempty,len=2,alpha"`
}

// CreateOrderResponse is what the checkout page needs to redirect the buyer
type CreateOrderResponse struct {
	OrderID    string      `json:"order_id"`
	Status     string      `json:"status"`
	ApproveURL string      `json:"approve_url,omitempty"`
	Tier       models.Tier `json:"tier"`
	Currency   string      `json:"currency"`
	services.TaxBreakdown
}

// CaptureOrderRequest represents capture PayPal order request
type CaptureOrderRequest struct {
	OrderID string `json:"orderId" binding:"required,max=64"`
}

// RobloxVerifyRequest represents Roblox purchase verification request
type RobloxVerifyRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Tier     string `json:"tier" binding:"omitempty,tier"`
}

// GetPricing returns every tier's price with tax for ?country=
func (h *Handler) GetPricing(c *gin.Context) {
	country := c.Query("country")

	prices := make([]TierPrice, 0, len(models.Tiers))
	for _, tier := range models.Tiers {
		price, ok := h.cfg.TierPrices[string(tier)]
		if !ok {
			continue
		}
		prices = append(prices, TierPrice{
			Tier:         tier,
			Currency:     h.cfg.Currency,
			TaxBreakdown: services.CalculateTax(price, country),
			RobuxPrice:   h.cfg.RobloxPrice[string(tier)],
		})
	}

	response.SuccessJSON(c, prices)
}

// CreatePayPalOrder prices the tier server side and opens a PayPal order
func (h *Handler) CreatePayPalOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	tier, _ := models.ParseTier(req.Tier)
	price, ok := h.cfg.TierPrices[string(tier)]
	if !ok {
		response.AppError(c, apperrors.Validation("Tier is not for sale"))
		return
	}
	breakdown := services.CalculateTax(price, req.Country)

	order, err := h.gateway.CreateOrder(c.Request.Context(), services.OrderRequest{
		Amount:      breakdown.TotalAmount,
		Currency:    h.cfg.Currency,
		Description: fmt.Sprintf("%s %s access", h.cfg.ServiceName, tier),
		Tier:        tier,
		ReturnURL:   h.cfg.PayPalReturnURL,
		CancelURL:   h.cfg.PayPalCancelURL,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.CreatedJSON(c, "Order created", CreateOrderResponse{
		OrderID:      order.ID,
		Status:       order.Status,
		ApproveURL:   order.ApproveURL,
		Tier:         tier,
		Currency:     h.cfg.Currency,
		TaxBreakdown: breakdown,
	})
}

// CapturePayPalOrder captures an approved order and fulfills it
func (h *Handler) CapturePayPalOrder(c *gin.Context) {
	var req CaptureOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}
	ctx := c.Request.Context()

	capture, err := h.gateway.CaptureOrder(ctx, req.OrderID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	info, err := h.gateway.ExtractPaymentInfo(capture)
	if err != nil {
		response.AppError(c, err)
		return
	}

	switch info.Status {
	case models.PaymentFailed:
		response.AppError(c, apperrors.Gateway(
			fmt.Errorf("capture %s of order %s was declined", info.TransactionID, info.OrderID), "CAPTURE_DECLINED"))
		return
	case models.PaymentPending:
		logging.Warnf("PayPal capture pending - order_id: %s, capture_id: %s", info.OrderID, info.TransactionID)
		response.JSON(c, http.StatusAccepted, response.Response{
			Success: true,
			Message: "Payment is pending, keys will be issued once it completes",
			Data: gin.H{
				"transaction_id": info.TransactionID,
				"order_id":       info.OrderID,
				"status":         info.Status,
			},
		})
		return
	}

	result, err := h.fulfillment.FulfillVerifiedPurchase(ctx, services.FulfillmentRequest{
		Channel:       models.ChannelPayPal,
		CorrelationID: info.TransactionID,
		Tier:          info.Tier,
		Identity:      services.Identity{Email: info.PayerEmail},
		Amount:        info.Amount,
		Currency:      info.Currency,
		OrderID:       info.OrderID,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	fulfillmentJSON(c, result)
}

// VerifyRobloxPurchase checks game pass ownership and fulfills it
func (h *Handler) VerifyRobloxPurchase(c *gin.Context) {
	var req RobloxVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}
	ctx := c.Request.Context()

	var tier models.Tier
	if req.Tier != "" {
		tier, _ = models.ParseTier(req.Tier)
	}

	purchase, err := h.roblox.VerifyPurchase(ctx, req.Username, tier)
	if err != nil {
		response.AppError(c, err)
		return
	}

	result, err := h.fulfillment.FulfillVerifiedPurchase(ctx, services.FulfillmentRequest{
		Channel:       models.ChannelRoblox,
		CorrelationID: purchase.CorrelationID(),
		Tier:          purchase.Tier,
		Identity: services.Identity{
			RobloxUsername: purchase.Username,
			RobloxUserID:   strconv.FormatInt(purchase.UserID, 10),
		},
		Amount:   h.cfg.RobloxPrice[string(purchase.Tier)],
		Currency: robuxCurrency,
		OrderID:  purchase.GamePassID,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	fulfillmentJSON(c, result)
}

// fulfillmentJSON answers 200 with the keys, or 202 when the payment is
// recorded but keys still have to be issued.
func fulfillmentJSON(c *gin.Context, result *services.FulfillmentResult) {
	if result.IssuanceFailed {
		issuance := apperrors.Issuance(errors.New(result.IssuanceError))
		response.JSON(c, issuance.HTTPCode, response.Response{
			Success: true,
			Code:    string(issuance.Code),
			Message: issuance.Message,
			Data:    result,
		})
		return
	}

	message := "Purchase verified"
	if !result.Created {
		message = "Purchase already verified, keys reissued"
	}
	response.JSON(c, http.StatusOK, response.Response{
		Success: true,
		Message: message,
		Data:    result,
	})
}
