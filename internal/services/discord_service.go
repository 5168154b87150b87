package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ChatNotifier posts operator notifications.
type ChatNotifier interface {
	SendDiscordNotification(ctx context.Context, content string, embeds []DiscordEmbed) error
}

type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordService posts to a Discord webhook. An empty URL disables it.
type DiscordService struct {
	client     *resty.Client
	webhookURL string
}

func NewDiscordService(webhookURL string) *DiscordService {
	return &DiscordService{
		client:     resty.New().SetTimeout(10 * time.Second),
		webhookURL: webhookURL,
	}
}

func (d *DiscordService) SendDiscordNotification(ctx context.Context, content string, embeds []DiscordEmbed) error {
	if d.webhookURL == "" {
		return nil
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"content": content,
			"embeds":  embeds,
		}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("discord webhook: status %d", resp.StatusCode())
	}
	return nil
}
