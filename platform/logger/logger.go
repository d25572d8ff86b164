// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and user_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("user_id", userID))}
	}

	return newLogger
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// StatusTransition logs a maintenance request status transition.
func (l *Logger) StatusTransition(requestID, from, to, actorRole string) {
	l.Info("status_transition",
		slog.String("request_id", requestID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("actor_role", actorRole),
	)
}

// DeliveryOutcome logs the per-channel result of a notification dispatch.
func (l *Logger) DeliveryOutcome(notificationID, recipientID, channel string, err error) {
	if err == nil {
		l.Info("delivery_outcome",
			slog.String("notification_id", notificationID),
			slog.String("recipient_id", recipientID),
			slog.String("channel", channel),
			slog.Bool("sent", true),
		)
		return
	}
	l.Warn("delivery_outcome",
		slog.String("notification_id", notificationID),
		slog.String("recipient_id", recipientID),
		slog.String("channel", channel),
		slog.Bool("sent", false),
		slog.String("error", err.Error()),
	)
}

// EscalationAdvanced logs an escalation ladder advance.
func (l *Logger) EscalationAdvanced(notificationID string, level int, exhausted bool) {
	l.Info("escalation_advanced",
		slog.String("notification_id", notificationID),
		slog.Int("level", level),
		slog.Bool("ladder_exhausted", exhausted),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
