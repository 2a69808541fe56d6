package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/events"
)

// StartAuditWorker subscribes an audit trail to authentication events.
// Events carry subjects and reasons only, so nothing sensitive is logged.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil || logger == nil {
		return
	}

	audit := logger.Named("audit")

	dispatcher.Subscribe(events.EventUserRegistered, func(_ context.Context, event events.Event) error {
		fields := auditFields(event)
		if payload, ok := event.Payload.(events.UserRegisteredPayload); ok {
			fields = append(fields, zap.String("role", payload.Role))
		}
		audit.Info("user registered", fields...)
		return nil
	})

	dispatcher.Subscribe(events.EventLoginSucceeded, func(_ context.Context, event events.Event) error {
		audit.Info("login succeeded", auditFields(event)...)
		return nil
	})

	dispatcher.Subscribe(events.EventLoginFailed, func(_ context.Context, event events.Event) error {
		fields := auditFields(event)
		if payload, ok := event.Payload.(events.LoginFailedPayload); ok {
			fields = append(fields, zap.String("reason", payload.Reason))
		}
		audit.Warn("login failed", fields...)
		return nil
	})
}

func auditFields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("subject", event.Subject),
		zap.Time("at", event.Timestamp),
	}
}
