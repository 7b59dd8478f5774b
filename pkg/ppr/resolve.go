package ppr

import (
	"strings"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// ProcessType is the economic process a commitment belongs to, if any.
type ProcessType string

const (
	ProcessNone      ProcessType = ""
	ProcessUse       ProcessType = "use"
	ProcessTransport ProcessType = "transport"
	ProcessStorage   ProcessType = "storage"
	ProcessRepair    ProcessType = "repair"
)

// Valid reports whether p is a known process type.
func (p ProcessType) Valid() bool {
	switch p {
	case ProcessNone, ProcessUse, ProcessTransport, ProcessStorage, ProcessRepair:
		return true
	}
	return false
}

// Interaction contexts that override action-based resolution.
const (
	ContextDisputeResolution    = "dispute_resolution"
	ContextNetworkValidation    = "network_validation"
	ContextEndOfLife            = "end_of_life"
	ContextGovernanceCompliance = "governance_compliance"
)

// ResolutionKey is the complete input to claim-type resolution.
type ResolutionKey struct {
	Action             contracts.VfAction
	ProcessType        ProcessType
	AgentRole          string
	InteractionContext string
}

// ClaimTypePair is the provider's and the receiver's claim type.
type ClaimTypePair struct {
	Provider ClaimType
	Receiver ClaimType
}

// DefaultClaimTypes is returned for combinations no rule matches.
var DefaultClaimTypes = ClaimTypePair{Provider: ServiceCommitmentAccepted, Receiver: ServiceFulfillmentCompleted}

var contextOverrides = map[string]ClaimTypePair{
	ContextDisputeResolution:    {DisputeResolutionParticipation, DisputeResolutionParticipation},
	ContextNetworkValidation:    {NetworkValidation, NetworkValidation},
	ContextEndOfLife:            {EndOfLifeDeclaration, EndOfLifeValidation},
	ContextGovernanceCompliance: {GovernanceCompliance, GovernanceCompliance},
}

var processPairs = map[ProcessType]ClaimTypePair{
	ProcessTransport: {TransportFulfillment, ServiceCommitmentAccepted},
	ProcessStorage:   {StorageFulfillment, ServiceCommitmentAccepted},
	ProcessRepair:    {MaintenanceFulfillment, ServiceCommitmentAccepted},
}

// ResolveClaimTypes maps a key to claim types. It is total and pure; the
// first matching rule wins:
//
//  1. interaction context override
//  2. creation actions (produce, raise)
//  3. custody transfer
//  4. ownership transfer (transfer, transfer-all-rights)
//  5. service process, taken from ProcessType or inferred from AgentRole
//  6. DefaultClaimTypes
func ResolveClaimTypes(key ResolutionKey) ClaimTypePair {
	if pair, ok := contextOverrides[normalizeTag(key.InteractionContext)]; ok {
		return pair
	}

	switch key.Action {
	case contracts.ActionProduce, contracts.ActionRaise:
		return ClaimTypePair{ResourceContribution, NetworkValidation}
	case contracts.ActionTransferCustody:
		return ClaimTypePair{ResponsibleTransfer, CustodyAcceptance}
	case contracts.ActionTransfer, contracts.ActionTransferAllRights:
		return ClaimTypePair{GoodFaithTransfer, CustodyAcceptance}
	}

	process := key.ProcessType
	if process == ProcessNone {
		process = InferProcessType(key.AgentRole)
	}
	if pair, ok := processPairs[process]; ok {
		return pair
	}
	return DefaultClaimTypes
}

// InferProcessType derives a process type from a free-form role label such
// as "Transport" or "storage-provider".
func InferProcessType(role string) ProcessType {
	r := normalizeTag(role)
	switch {
	case r == "":
		return ProcessNone
	case strings.HasPrefix(r, "transport"):
		return ProcessTransport
	case strings.HasPrefix(r, "storage"):
		return ProcessStorage
	case strings.HasPrefix(r, "repair"), strings.HasPrefix(r, "maintenance"):
		return ProcessRepair
	}
	return ProcessNone
}

func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
