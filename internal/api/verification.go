package api

import (
	"net/http"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/middleware"
	"keyshop-api/internal/models"
	"keyshop-api/internal/response"

	"github.com/gin-gonic/gin"
)

// SendCodeRequest represents send verification code request
type SendCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerifyCodeRequest represents verify verification code request
type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// SessionResponse is returned after a successful login
type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Email     string    `json:"email,omitempty"`
}

// SendVerificationCode sends verification code
func (h *Handler) SendVerificationCode(c *gin.Context) {
	var req SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	if err := h.verification.SendCode(c.Request.Context(), req.Email); err != nil {
		response.AppError(c, err)
		return
	}

	response.JSON(c, http.StatusOK, response.Response{
		Success: true,
		Message: "Verification code sent successfully",
	})
}

// VerifyCode redeems a code and starts a customer session
func (h *Handler) VerifyCode(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	if err := h.verification.VerifyCode(c.Request.Context(), req.Email, req.Code); err != nil {
		response.AppError(c, err)
		return
	}

	email := models.NormalizeEmail(req.Email)
	token, expiresAt, err := h.sessions.IssueClientToken(email)
	if err != nil {
		response.AppError(c, apperrors.Internal(err))
		return
	}

	response.JSON(c, http.StatusOK, response.Response{
		Success: true,
		Message: "Verification code verified successfully",
		Data:    SessionResponse{Token: token, ExpiresAt: expiresAt, Email: email},
	})
}

// ListOrders lists the logged in customer's orders
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.fulfillment.ListOrders(c.Request.Context(), middleware.ClientEmail(c))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, orders)
}

// GetOrder returns one of the logged in customer's orders
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.fulfillment.GetOrderForEmail(c.Request.Context(), c.Param("id"), middleware.ClientEmail(c))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, order)
}
