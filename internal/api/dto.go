package api

import (
	"time"

	"github.com/devlens-io/devlens/internal/audit"
)

// submitRequest is the POST /v1/events body. The actor is resolved from
// authentication, never trusted from the payload, except that an
// authenticated service may attribute a user_id it acts on behalf of.
type submitRequest struct {
	EventType  string         `json:"event_type"`
	Severity   string         `json:"severity,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Target     *targetDTO     `json:"target,omitempty"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type targetDTO struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// build turns the request into a validated event. The actor and request
// metadata come from the authenticated request context.
func (req *submitRequest) build(actor audit.Actor, sourceIP, userAgent, requestID string) (audit.Event, error) {
	if actor.Kind == audit.ActorAPIKey && req.UserID != "" {
		// A platform service submitting on behalf of a user.
		actor = audit.Actor{Kind: audit.ActorUser, UserID: req.UserID}
	}

	b := audit.NewEvent(audit.EventType(req.EventType)).
		WithActor(actor).
		WithSource(sourceIP, userAgent).
		WithRequestID(requestID)

	if req.Severity != "" {
		b = b.WithSeverity(audit.Severity(req.Severity))
	}
	if req.Outcome != "" {
		b = b.WithOutcome(audit.Outcome(req.Outcome))
	}
	if req.Target != nil {
		b = b.WithTarget(audit.Target{
			Kind:        req.Target.Kind,
			ID:          req.Target.ID,
			DisplayName: req.Target.DisplayName,
		})
	}
	if req.OccurredAt != nil {
		b = b.WithOccurredAt(*req.OccurredAt)
	}
	if req.TraceID != "" {
		b = b.WithTraceID(req.TraceID)
	}
	if req.Message != "" {
		b = b.WithMessage(req.Message)
	}
	if req.Attributes != nil {
		b = b.WithAttrs(req.Attributes)
	}
	return b.Build()
}

// submitResponse acknowledges an accepted event.
type submitResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}
