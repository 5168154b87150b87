package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/database"
	"keyshop-api/internal/metrics"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"
)

const maxTicketNumberAttempts = 5

// TicketStore is the storage used by the ticket workflow.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, ref models.TicketRef) (*models.Ticket, error)
	ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error)
	ListTickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error)
	AddReply(ctx context.Context, ref models.TicketRef, reply *models.TicketReply) (*models.Ticket, error)
	ListReplies(ctx context.Context, ticketNumber string) ([]models.TicketReply, error)
	UpdateTicketStatus(ctx context.Context, ref models.TicketRef, status models.TicketStatus) (*models.Ticket, error)
}

// NewTicket is a ticket opened by a customer.
type NewTicket struct {
	Email    string
	Category string
	Subject  string
	Message  string
}

// ReplyInput is a message appended to a ticket.
type ReplyInput struct {
	AuthorType models.AuthorType
	AuthorName string
	Message    string
}

// TicketService manages tickets, replies and status changes. Any status can
// move to any other; every reply and status change bumps updated_at.
type TicketService struct {
	store      TicketStore
	mailer     Mailer
	chat       ChatNotifier
	dispatcher *Dispatcher

	now     func() time.Time
	entropy io.Reader
}

func NewTicketService(store TicketStore, mailer Mailer, chat ChatNotifier, dispatcher *Dispatcher) *TicketService {
	return &TicketService{
		store:      store,
		mailer:     mailer,
		chat:       chat,
		dispatcher: dispatcher,
		now:        time.Now,
		entropy:    rand.Reader,
	}
}

// GenerateTicketNumber builds "TKT-<base36 unix millis>-<4 hex>".
func (s *TicketService) GenerateTicketNumber() (string, error) {
	suffix := make([]byte, 2)
	if _, err := io.ReadFull(s.entropy, suffix); err != nil {
		return "", err
	}
	stamp := strconv.FormatInt(s.now().UnixMilli(), 36)
	return strings.ToUpper(models.TicketNumberPrefix + stamp + "-" + hex.EncodeToString(suffix)), nil
}

// CreateTicket opens a ticket. Number collisions are retried a few times.
func (s *TicketService) CreateTicket(ctx context.Context, in NewTicket) (*models.Ticket, error) {
	email := models.NormalizeEmail(in.Email)
	subject := strings.TrimSpace(in.Subject)
	message := strings.TrimSpace(in.Message)
	switch {
	case email == "":
		return nil, apperrors.Validation("Email is required")
	case subject == "":
		return nil, apperrors.Validation("Subject is required")
	case message == "":
		return nil, apperrors.Validation("Message is required")
	}

	ticket := &models.Ticket{
		UserEmail:   email,
		Category:    valueOr(strings.TrimSpace(in.Category), "general"),
		Subject:     subject,
		Description: message,
		Status:      models.TicketOpen,
	}

	for attempt := 1; ; attempt++ {
		number, err := s.GenerateTicketNumber()
		if err != nil {
			return nil, fmt.Errorf("generate ticket number: %w", err)
		}
		ticket.TicketNumber = number

		err = s.store.CreateTicket(ctx, ticket)
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrDuplicateTicketNumber) || attempt >= maxTicketNumberAttempts {
			return nil, err
		}
		logging.Warnf("Ticket number collision, retrying - number: %s, attempt: %d", number, attempt)
		ticket.ID = 0
	}

	metrics.Tickets.WithLabelValues("created").Inc()
	logging.Infof("Ticket created - number: %s, email: %s, category: %s", ticket.TicketNumber, email, ticket.Category)

	embed := DiscordEmbed{
		Title:       "New support ticket " + ticket.TicketNumber,
		Description: truncate(ticket.Description, 1000),
		Color:       0xf1c40f,
		Fields: []DiscordField{
			{Name: "Subject", Value: ticket.Subject},
			{Name: "Category", Value: ticket.Category, Inline: true},
			{Name: "Email", Value: ticket.UserEmail, Inline: true},
		},
	}
	s.dispatcher.Go("discord_ticket", func(ctx context.Context) error {
		return s.chat.SendDiscordNotification(ctx, "", []DiscordEmbed{embed})
	})

	return ticket, nil
}

// AddReply appends a reply to the referenced ticket. Admin replies are mailed
// to the ticket owner.
func (s *TicketService) AddReply(ctx context.Context, ref models.TicketRef, in ReplyInput) (*models.TicketReply, *models.Ticket, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, nil, apperrors.Validation("Message is required")
	}
	if in.AuthorType == "" {
		in.AuthorType = models.AuthorUser
	}
	if !in.AuthorType.Valid() {
		return nil, nil, apperrors.Validation("Unknown author type")
	}

	reply := &models.TicketReply{
		AuthorType: in.AuthorType,
		AuthorName: strings.TrimSpace(in.AuthorName),
		Message:    message,
	}
	ticket, err := s.store.AddReply(ctx, ref, reply)
	if err != nil {
		return nil, nil, err
	}

	metrics.Tickets.WithLabelValues("reply_" + string(in.AuthorType)).Inc()

	if in.AuthorType == models.AuthorAdmin {
		to, number := ticket.UserEmail, ticket.TicketNumber
		s.dispatcher.Go("ticket_reply_email", func(ctx context.Context) error {
			return s.mailer.SendTicketReplyEmail(ctx, to, number, message)
		})
	}

	return reply, ticket, nil
}

// UpdateStatus is the only way a ticket's status changes.
func (s *TicketService) UpdateStatus(ctx context.Context, ref models.TicketRef, status models.TicketStatus) (*models.Ticket, error) {
	if !status.Valid() {
		return nil, apperrors.Validation("Unknown ticket status")
	}

	ticket, err := s.store.UpdateTicketStatus(ctx, ref, status)
	if err != nil {
		return nil, err
	}

	metrics.Tickets.WithLabelValues("status_" + string(status)).Inc()
	logging.Infof("Ticket status changed - number: %s, status: %s", ticket.TicketNumber, status)
	return ticket, nil
}

func (s *TicketService) GetTicket(ctx context.Context, ref models.TicketRef) (*models.Ticket, error) {
	return s.store.GetTicket(ctx, ref)
}

// GetReplies returns the replies of a ticket oldest first.
func (s *TicketService) GetReplies(ctx context.Context, ref models.TicketRef) ([]models.TicketReply, error) {
	ticket, err := s.store.GetTicket(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.store.ListReplies(ctx, ticket.TicketNumber)
}

// GetTicketForEmail returns a ticket and its replies to the customer who opened it.
func (s *TicketService) GetTicketForEmail(ctx context.Context, ref models.TicketRef, email string) (*models.Ticket, []models.TicketReply, error) {
	ticket, err := s.store.GetTicket(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if ticket.UserEmail != models.NormalizeEmail(email) {
		return nil, nil, apperrors.Forbidden("This ticket does not belong to you")
	}

	replies, err := s.store.ListReplies(ctx, ticket.TicketNumber)
	if err != nil {
		return nil, nil, err
	}
	return ticket, replies, nil
}

func (s *TicketService) ListByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, apperrors.Validation("Email is required")
	}
	return s.store.ListTicketsByEmail(ctx, email)
}

// ListAll returns every ticket, optionally filtered by status, for admins.
func (s *TicketService) ListAll(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.Validation("Unknown ticket status")
	}
	return s.store.ListTickets(ctx, status)
}
