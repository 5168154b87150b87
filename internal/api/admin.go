package api

import (
	"net/http"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"
	"keyshop-api/internal/response"
	"keyshop-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// AdminLoginRequest represents admin login request
type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// UpdateTicketRequest represents ticket status change request
type UpdateTicketRequest struct {
	Status string `json:"status" binding:"required,ticketstatus"`
}

// SetKeysRequest represents manual key assignment request
type SetKeysRequest struct {
	Keys []string `json:"keys" binding:"required,min=1,dive,max=512"`
}

type adminTicketQuery struct {
	Status string `form:"status" binding:"omitempty,ticketstatus"`
}

// AdminLogin exchanges the admin password for a signed session
func (h *Handler) AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	if !h.auth.CheckAdminPassword(req.Password) {
		logging.Warnf("Failed admin login - ip: %s", c.ClientIP())
		response.AppError(c, apperrors.Unauthorized("Invalid password"))
		return
	}

	token, expiresAt, err := h.sessions.IssueAdminToken()
	if err != nil {
		response.AppError(c, apperrors.Internal(err))
		return
	}

	logging.Infof("Admin logged in - ip: %s", c.ClientIP())
	response.JSON(c, http.StatusOK, response.Response{
		Success: true,
		Message: "Logged in",
		Data:    SessionResponse{Token: token, ExpiresAt: expiresAt},
	})
}

// AdminListTickets lists all tickets, optionally filtered by ?status=
func (h *Handler) AdminListTickets(c *gin.Context) {
	var q adminTicketQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	tickets, err := h.tickets.ListAll(c.Request.Context(), models.TicketStatus(q.Status))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, tickets)
}

// AdminGetTicket returns any ticket with its replies
func (h *Handler) AdminGetTicket(c *gin.Context) {
	ctx := c.Request.Context()
	ref := models.ParseTicketRef(c.Param("id"))

	ticket, err := h.tickets.GetTicket(ctx, ref)
	if err != nil {
		response.AppError(c, err)
		return
	}
	replies, err := h.tickets.GetReplies(ctx, models.ByNumber(ticket.TicketNumber))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, TicketDetail{Ticket: ticket, Replies: replies})
}

// AdminUpdateTicket changes a ticket's status
func (h *Handler) AdminUpdateTicket(c *gin.Context) {
	var req UpdateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	ticket, err := h.tickets.UpdateStatus(c.Request.Context(), models.ParseTicketRef(c.Param("id")), models.TicketStatus(req.Status))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, ticket)
}

// AdminGetPayment returns any payment by transaction id
func (h *Handler) AdminGetPayment(c *gin.Context) {
	payment, err := h.fulfillment.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, payment)
}

// AdminReissue asks the key system for fresh keys for a stored payment
func (h *Handler) AdminReissue(c *gin.Context) {
	result, err := h.fulfillment.Reissue(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AppError(c, err)
		return
	}
	fulfillmentJSON(c, result)
}

// AdminSetKeys stores keys issued by hand and mails them to the buyer
func (h *Handler) AdminSetKeys(c *gin.Context) {
	var req SetKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	payment, err := h.fulfillment.SetKeys(c.Request.Context(), c.Param("id"), req.Keys)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, payment)
}
