// Package audit writes activity events to the structured log.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/auth"
	"guildhall.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := obs.Logger().WithFields(logrus.Fields{
		"type":  "audit",
		"event": event,
	})
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.WithField("request_id", rid)
	}
	if caller, ok := auth.CallerFromContext(ctx); ok {
		entry = entry.WithField("caller", caller)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry.WithField("fields", copyFields).Info("audit")
	return nil
}

// Notifier logs every activity event as an audit entry.
type Notifier struct{}

func (Notifier) Notify(ctx context.Context, evt activity.Event) error {
	fields := map[string]any{
		"id":          evt.ID,
		"org_id":      evt.OrganizationID,
		"actor":       evt.Actor,
		"occurred_at": evt.OccurredAt,
	}
	if evt.Target != "" {
		fields["target"] = evt.Target
	}
	if evt.Amount > 0 {
		fields["amount"] = evt.Amount
		fields["asset"] = evt.Asset
	}
	if evt.ProposalID > 0 {
		fields["proposal_id"] = evt.ProposalID
	}
	if evt.Status != "" {
		fields["status"] = evt.Status
	}
	if evt.Reason != "" {
		fields["reason"] = evt.Reason
	}
	if evt.Tier != "" {
		fields["tier"] = evt.Tier
	}
	if !evt.ExpiresAt.IsZero() {
		fields["expires_at"] = evt.ExpiresAt
	}
	return LogEvent(ctx, string(evt.Kind), fields)
}
