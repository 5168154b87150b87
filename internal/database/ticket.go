package database

import (
	"context"
	"errors"
	"fmt"

	"keyshop-api/internal/apperrors"
	"keyshop-api/internal/models"

	"gorm.io/gorm"
)

// ErrDuplicateTicketNumber is returned when a generated ticket number already exists.
var ErrDuplicateTicketNumber = errors.New("ticket number already exists")

// CreateTicket inserts a ticket. The caller assigns TicketNumber.
func (s *Store) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	err := s.db.WithContext(ctx).Create(ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateTicketNumber
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// GetTicket resolves a ticket by number or internal id.
func (s *Store) GetTicket(ctx context.Context, ref models.TicketRef) (*models.Ticket, error) {
	return findTicket(s.db.WithContext(ctx), ref)
}

func findTicket(db *gorm.DB, ref models.TicketRef) (*models.Ticket, error) {
	var ticket models.Ticket
	var err error
	switch ref.Kind {
	case models.RefInternalID:
		err = db.First(&ticket, ref.ID).Error
	default:
		err = db.Where("ticket_number = ?", ref.Number).First(&ticket).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Ticket not found")
		}
		return nil, fmt.Errorf("get ticket %s: %w", ref, err)
	}
	return &ticket, nil
}

// ListTicketsByEmail returns a customer's tickets, most recently active first.
func (s *Store) ListTicketsByEmail(ctx context.Context, email string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.db.WithContext(ctx).
		Where("user_email = ?", models.NormalizeEmail(email)).
		Order("updated_at DESC").
		Find(&tickets).Error
	return tickets, err
}

// ListTickets returns all tickets, optionally filtered by status.
func (s *Store) ListTickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	var tickets []models.Ticket
	query := s.db.WithContext(ctx).Order("updated_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Find(&tickets).Error
	return tickets, err
}

// AddReply appends a reply and bumps the ticket's updated_at in one transaction.
// The reply is always keyed by the canonical ticket number.
func (s *Store) AddReply(ctx context.Context, ref models.TicketRef, reply *models.TicketReply) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ticket, err = findTicket(tx, ref)
		if err != nil {
			return err
		}

		reply.ID = 0
		reply.TicketNumber = ticket.TicketNumber
		if err := tx.Create(reply).Error; err != nil {
			return fmt.Errorf("create reply: %w", err)
		}

		now := tx.NowFunc()
		if err := tx.Model(ticket).Update("updated_at", now).Error; err != nil {
			return fmt.Errorf("touch ticket: %w", err)
		}
		ticket.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListReplies returns a ticket's replies in the order they were written.
func (s *Store) ListReplies(ctx context.Context, ticketNumber string) ([]models.TicketReply, error) {
	var replies []models.TicketReply
	err := s.db.WithContext(ctx).
		Where("ticket_number = ?", ticketNumber).
		Order("created_at ASC, id ASC").
		Find(&replies).Error
	return replies, err
}

// UpdateTicketStatus sets the status and bumps updated_at.
func (s *Store) UpdateTicketStatus(ctx context.Context, ref models.TicketRef, status models.TicketStatus) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ticket, err = findTicket(tx, ref)
		if err != nil {
			return err
		}

		now := tx.NowFunc()
		if err := tx.Model(ticket).Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("update ticket status: %w", err)
		}
		ticket.Status = status
		ticket.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}
