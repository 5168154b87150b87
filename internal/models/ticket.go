package models

import (
	"strconv"
	"strings"
	"time"
)

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketClosed:
		return true
	}
	return false
}

type AuthorType string

const (
	AuthorUser  AuthorType = "user"
	AuthorAdmin AuthorType = "admin"
)

func (a AuthorType) Valid() bool {
	return a == AuthorUser || a == AuthorAdmin
}

// Ticket is a support ticket. TicketNumber is the public identifier, ID stays internal.
type Ticket struct {
	BaseModel
	TicketNumber string       `json:"ticket_number" gorm:"size:40;uniqueIndex;not null"`
	UserEmail    string       `json:"user_email" gorm:"size:255;not null;index"`
	Category     string       `json:"category" gorm:"size:64"`
	Subject      string       `json:"subject" gorm:"size:255;not null"`
	Description  string       `json:"description" gorm:"type:text"`
	Status       TicketStatus `json:"status" gorm:"size:16;not null;index"`
}

// TicketReply is append-only and always references the ticket by its public number.
type TicketReply struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	TicketNumber string     `json:"ticket_number" gorm:"size:40;not null;index"`
	AuthorType   AuthorType `json:"author_type" gorm:"size:8;not null"`
	AuthorName   string     `json:"author_name" gorm:"size:128"`
	Message      string     `json:"message" gorm:"type:text;not null"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

// TicketRefKind tells which identifier a TicketRef carries.
type TicketRefKind int

const (
	RefTicketNumber TicketRefKind = iota
	RefInternalID
)

// TicketRef addresses a ticket either by its public number or by its internal id.
type TicketRef struct {
	Kind   TicketRefKind
	Number string
	ID     uint
}

func ByNumber(number string) TicketRef {
	return TicketRef{Kind: RefTicketNumber, Number: number}
}

func ByID(id uint) TicketRef {
	return TicketRef{Kind: RefInternalID, ID: id}
}

func (r TicketRef) String() string {
	if r.Kind == RefInternalID {
		return "#" + strconv.FormatUint(uint64(r.ID), 10)
	}
	return r.Number
}

// ParseTicketRef maps a path parameter onto a TicketRef. Values carrying the
// ticket number prefix are numbers, bare digits are internal ids, anything
// else is looked up as a number.
func ParseTicketRef(raw string) TicketRef {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToUpper(raw), TicketNumberPrefix) {
		return ByNumber(strings.ToUpper(raw))
	}
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
		return ByID(uint(id))
	}
	return ByNumber(raw)
}

// TicketNumberPrefix starts every public ticket number.
const TicketNumberPrefix = "TKT-"
