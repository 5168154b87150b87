package api

import (
	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"
	"keyshop-api/internal/response"
	"keyshop-api/internal/services"

	"github.com/gin-gonic/gin"
)

// CreateTicketRequest represents open support ticket request
type CreateTicketRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Category string `json:"category" binding:"max=64"`
	Subject  string `json:"subject" binding:"required,max=255"`
	Message  string `json:"message" binding:"required,max=10000"`
}

// ReplyRequest represents ticket reply request. User replies are identified by
// email or a customer session; admin replies need admin credentials instead.
type ReplyRequest struct {
	Email      string `json:"email" binding:"omitempty,email"`
	AuthorType string `json:"authorType" binding:"omitempty,oneof=user admin"`
	AuthorName string `json:"authorName" binding:"max=128"`
	Message    string `json:"message" binding:"required,max=10000"`
}

type ticketQuery struct {
	Email string `form:"email" binding:"required,email"`
}

// TicketDetail is a ticket with its conversation
type TicketDetail struct {
	Ticket  *models.Ticket       `json:"ticket"`
	Replies []models.TicketReply `json:"replies"`
}

// CreateTicket opens a support ticket
func (h *Handler) CreateTicket(c *gin.Context) {
	var req CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	ticket, err := h.tickets.CreateTicket(c.Request.Context(), services.NewTicket{
		Email:    req.Email,
		Category: req.Category,
		Subject:  req.Subject,
		Message:  req.Message,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.CreatedJSON(c, "Ticket created", ticket)
}

// ListTickets lists the tickets opened by ?email=
func (h *Handler) ListTickets(c *gin.Context) {
	var q ticketQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	tickets, err := h.tickets.ListByEmail(c.Request.Context(), q.Email)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, tickets)
}

// GetTicket returns a ticket and its replies to the customer who opened it
func (h *Handler) GetTicket(c *gin.Context) {
	var q ticketQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	ticket, replies, err := h.tickets.GetTicketForEmail(c.Request.Context(), models.ParseTicketRef(c.Param("id")), q.Email)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessJSON(c, TicketDetail{Ticket: ticket, Replies: replies})
}

// ReplyToTicket appends a customer or admin reply
func (h *Handler) ReplyToTicket(c *gin.Context) {
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}
	ctx := c.Request.Context()
	ref := models.ParseTicketRef(c.Param("id"))

	author := models.AuthorType(req.AuthorType)
	if author == "" {
		author = models.AuthorUser
	}

	if author == models.AuthorAdmin {
		if !h.auth.IsAdmin(c) {
			response.AppError(c, apperrors.Unauthorized("Admin authentication required"))
			return
		}
	} else {
		email := req.Email
		if email == "" {
			email = h.auth.SessionEmail(c)
		}
		if email == "" {
			response.AppError(c, apperrors.Unauthorized("Email or customer session is required"))
			return
		}
		ticket, _, err := h.tickets.GetTicketForEmail(ctx, ref, email)
		if err != nil {
			response.AppError(c, err)
			return
		}
		ref = models.ByNumber(ticket.TicketNumber)
	}

	reply, ticket, err := h.tickets.AddReply(ctx, ref, services.ReplyInput{
		AuthorType: author,
		AuthorName: req.AuthorName,
		Message:    req.Message,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.CreatedJSON(c, "Reply added", gin.H{
		"reply":  reply,
		"ticket": ticket,
	})
}
