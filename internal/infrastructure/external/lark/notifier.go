package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

// Config holds Lark notifier configuration
type Config struct {
	AppID     string
	AppSecret string
	// ZoneChats maps a zone to the agent group chat for that zone
	ZoneChats map[string]string
	// DefaultChat receives reports for zones without a dedicated chat
	DefaultChat string
}

// Notifier implements port.AgentNotifier by messaging the zone's agent group
// chat. Sends retry a few times with exponential backoff; callers invoke this
// fire-and-forget, so a definitive failure is only ever logged upstream.
type Notifier struct {
	client *lark.Client
	cfg    Config
	logger *zap.Logger
}

// NewNotifier creates a new Lark agent notifier
func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &Notifier{client: client, cfg: cfg, logger: logger}
}

// NotifySubmission alerts the zone's agents that a driver is waiting for
// live support
func (n *Notifier) NotifySubmission(ctx context.Context, r *report.Report) error {
	text := fmt.Sprintf("New %s report %s from store %s — driver waiting for support.",
		r.Type, r.ID, r.StoreID)
	return n.sendText(ctx, r.Zone, text)
}

// NotifyTimeout alerts the zone's agents that a report expired unattended
func (n *Notifier) NotifyTimeout(ctx context.Context, r *report.Report) error {
	text := fmt.Sprintf("Report %s (store %s) timed out without resolution.", r.ID, r.StoreID)
	return n.sendText(ctx, r.Zone, text)
}

func (n *Notifier) chatFor(zone string) string {
	if chat, ok := n.cfg.ZoneChats[zone]; ok && chat != "" {
		return chat
	}
	return n.cfg.DefaultChat
}

func (n *Notifier) sendText(ctx context.Context, zone, text string) error {
	chatID := n.chatFor(zone)
	if chatID == "" {
		return fmt.Errorf("no agent chat configured for zone %q", zone)
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	send := func() error {
		req := larkim.NewCreateMessageReqBuilder().
			ReceiveIdType("chat_id").
			Body(larkim.NewCreateMessageReqBodyBuilder().
				ReceiveId(chatID).
				MsgType("text").
				Content(string(content)).
				Build()).
			Build()

		resp, err := n.client.Im.Message.Create(ctx, req)
		if err != nil {
			return err
		}
		if !resp.Success() {
			return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(send, policy); err != nil {
		n.logger.Error("Failed to notify agents",
			zap.String("zone", zone),
			zap.String("chat_id", chatID),
			zap.Error(err))
		return fmt.Errorf("failed to notify agents: %w", err)
	}

	n.logger.Info("Agents notified", zap.String("zone", zone))
	return nil
}

var _ port.AgentNotifier = (*Notifier)(nil)
