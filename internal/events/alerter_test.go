package events

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/reconcile"
)

func TestAlerterTopicRouting(t *testing.T) {
	pub := &capturingPublisher{}
	a := NewAlerter(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	a.Alert(ctx, reconcile.Alert{GuildID: 1, Kind: model.DiagAutoBan, Subject: "act-1"})
	a.Alert(ctx, reconcile.Alert{GuildID: 1, Kind: model.DiagApplyFailed, Subject: "member:1:42"})

	if pub.published(TopicAlertAutoBan) != 1 {
		t.Errorf("auto-ban alerts = %d, want 1", pub.published(TopicAlertAutoBan))
	}
	if pub.published(TopicAlertApplyFailed) != 1 {
		t.Errorf("apply-failed alerts = %d, want 1", pub.published(TopicAlertApplyFailed))
	}

	ev, ok := pub.events[0].(EngineAlert)
	if !ok || ev.Kind != string(model.DiagAutoBan) || ev.Subject != "act-1" {
		t.Errorf("payload = %+v", pub.events[0])
	}

	var _ reconcile.Alerter = a
}
