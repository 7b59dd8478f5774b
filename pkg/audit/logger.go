// Package audit records structured events for receipt issuance, the
// capability grant lifecycle and private-data access decisions.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
	EventPolicy   EventType = "POLICY"
)

// Actions recorded by the core.
const (
	ActionIssue        = "ppr.issue"
	ActionDeliver      = "ppr.deliver"
	ActionReject       = "ppr.reject"
	ActionGrant        = "capability.grant"
	ActionRevoke       = "capability.revoke"
	ActionRedeem       = "privatedata.access"
	ActionRuleViolated = "governance.violation"
)

// Event represents a structured audit record. Metadata never carries
// private field values.
type Event struct {
	ID        string                 `json:"id"`
	ActorID   string                 `json:"actor_id"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error
}

type actorKey struct{}

// WithActor attaches the acting agent to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting agent, or "system".
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}

// newEvent stamps an event. Metadata is redacted before it is persisted.
func newEvent(ctx context.Context, now time.Time, eventType EventType, action, resource string, metadata map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		ActorID:   ActorFrom(ctx),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: now.UTC(),
		Metadata:  privacy.Redact(ctx, metadata),
	}
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	event := newEvent(ctx, l.clock(), eventType, action, resource, metadata)

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

type nop struct{}

func (nop) Record(context.Context, EventType, string, string, map[string]interface{}) error {
	return nil
}

// Nop discards every event.
func Nop() Logger { return nop{} }

// Multi fans an event out to every logger and returns the first error.
func Multi(loggers ...Logger) Logger { return multi(loggers) }

type multi []Logger

func (m multi) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	var first error
	for _, l := range m {
		if err := l.Record(ctx, eventType, action, resource, metadata); err != nil && first == nil {
			first = err
		}
	}
	return first
}
