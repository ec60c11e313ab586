package logger

import (
	"context"
	"log/slog"
	"time"
)

// LoginEvent describes one pass through the login state machine.
type LoginEvent struct {
	Method        string
	Phase         string
	UserID        string
	IPAddress     string
	UserAgent     string
	NewAccount    bool
	FailureReason string
}

// AuditLogger writes security events to a dedicated slog stream.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(slog.String("audit", "true")),
	}
}

func (al *AuditLogger) emit(ctx context.Context, success bool, attrs []slog.Attr) {
	attrs = append(attrs, slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)))
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLogin records a login transition. Events without a failure reason are
// logged as successes.
func (al *AuditLogger) LogLogin(ctx context.Context, event LoginEvent) {
	success := event.FailureReason == ""
	attrs := []slog.Attr{
		slog.String("audit_type", "login"),
		slog.String("method", event.Method),
		slog.String("phase", event.Phase),
		slog.Bool("success", success),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.NewAccount {
		attrs = append(attrs, slog.Bool("new_account", true))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if !success {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	al.emit(ctx, success, attrs)
}

// LogSessionRevocation records sessions being revoked for a user.
func (al *AuditLogger) LogSessionRevocation(ctx context.Context, userID, ipAddress, reason string, keptCurrent bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "session"),
		slog.String("event_type", "revoke"),
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Bool("kept_current", keptCurrent),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	al.emit(ctx, true, attrs)
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(ctx, true, attrs)
}
