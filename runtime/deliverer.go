package runtime

import (
	"context"
	"log/slog"

	"muc-lab/domain/muc"
)

// LogDeliverer writes every outbound stanza to the structured log. The
// service derives deliveries but carries no wire transport, so the server
// binary uses this sink. Tests plug their own recorders instead.
type LogDeliverer struct {
	log *slog.Logger
}

func NewLogDeliverer(log *slog.Logger) *LogDeliverer {
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) DeliverPresence(ctx context.Context, presence muc.Presence, to muc.JID) {
	d.log.Info("presence",
		"to", to.String(),
		"nickname", presence.Nickname,
		"type", presence.Type,
		"affiliation", presence.Affiliation,
		"role", presence.Role,
		"status", presence.Status,
	)
}

func (d *LogDeliverer) DeliverMessage(ctx context.Context, message muc.Message, to muc.JID) {
	d.log.Info("message",
		"to", to.String(),
		"room", message.Room,
		"from", message.Nickname,
		"subject", message.Subject,
	)
}
