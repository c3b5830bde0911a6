package events

import (
	"context"
	"log/slog"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/reconcile"
)

// Alerter bridges reconciler alerts onto the bus. Publish failures are
// logged and dropped: the diagnostic row is already persisted, the bus
// copy is best-effort.
type Alerter struct {
	pub    Publisher
	logger *slog.Logger
}

func NewAlerter(pub Publisher, logger *slog.Logger) *Alerter {
	return &Alerter{pub: pub, logger: logger}
}

func (a *Alerter) Alert(ctx context.Context, alert reconcile.Alert) {
	topic := TopicAlertApplyFailed
	if alert.Kind == model.DiagAutoBan {
		topic = TopicAlertAutoBan
	}
	payload := EngineAlert{
		GuildID: alert.GuildID,
		Kind:    string(alert.Kind),
		Subject: alert.Subject,
		Detail:  alert.Detail,
	}
	if err := a.pub.Publish(ctx, topic, payload); err != nil {
		a.logger.Error("publish alert", "topic", topic, "guild_id", alert.GuildID, "error", err)
	}
}
