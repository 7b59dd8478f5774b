package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for receipt and capability operations.
var (
	AttrAgentID   = attribute.Key("nondominium.agent.id")
	AttrOperation = attribute.Key("nondominium.operation")
	AttrOutcome   = attribute.Key("nondominium.outcome")

	AttrClaimType  = attribute.Key("nondominium.ppr.claim_type")
	AttrSide       = attribute.Key("nondominium.ppr.side")
	AttrDisclosure = attribute.Key("nondominium.reputation.scope")
	AttrGrantID    = attribute.Key("nondominium.capability.grant_id")
	AttrFieldCount = attribute.Key("nondominium.capability.field_count")
	AttrErrorCode  = attribute.Key("nondominium.error.code")
)

// IssuanceOperation creates attributes for receipt issuance.
func IssuanceOperation(agentID, providerType, receiverType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgentID.String(agentID),
		AttrOperation.String("issue"),
		AttrClaimType.String(providerType + "/" + receiverType),
	}
}

// AccessOperation creates attributes for a private-data access decision.
func AccessOperation(agentID, grantID, outcome string, fields int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgentID.String(agentID),
		AttrOperation.String("access"),
		AttrGrantID.String(grantID),
		AttrOutcome.String(outcome),
		AttrFieldCount.Int(fields),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
