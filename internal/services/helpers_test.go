package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"keyshop-api/internal/database"
	"keyshop-api/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))

	db, err := database.OpenSQLite(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database.NewStore(db)
}

type fakeIssuer struct {
	mu       sync.Mutex
	requests []KeyRequest
	results  []IssuanceResult
}

func (f *fakeIssuer) GenerateKey(_ context.Context, req KeyRequest) IssuanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.results) == 0 {
		return IssuanceResult{Error: "no result queued"}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

type sentMail struct {
	Kind string
	To   string
	Body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) record(kind, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{Kind: kind, To: to, Body: body})
	return m.err
}

func (m *recordingMailer) SendKeyEmail(_ context.Context, to string, keys []string, _ models.Tier, _ string) error {
	return m.record("keys", to, strings.Join(keys, ","))
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, to, code string) error {
	return m.record("code", to, code)
}

func (m *recordingMailer) SendTicketReplyEmail(_ context.Context, to, ticketNumber, message string) error {
	return m.record("reply", to, ticketNumber+": "+message)
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type recordingChat struct {
	mu     sync.Mutex
	embeds []DiscordEmbed
	err    error
}

func (c *recordingChat) SendDiscordNotification(_ context.Context, _ string, embeds []DiscordEmbed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeds = append(c.embeds, embeds...)
	return c.err
}

func (c *recordingChat) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.embeds)
}

var errNotifierDown = errors.New("notifier down")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
