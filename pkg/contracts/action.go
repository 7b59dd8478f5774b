package contracts

// VfAction is a ValueFlows action kind carried by commitments and events.
type VfAction string

// ValueFlows action vocabulary.
const (
	ActionWork              VfAction = "work"
	ActionDeliverService    VfAction = "deliver-service"
	ActionUse               VfAction = "use"
	ActionConsume           VfAction = "consume"
	ActionProduce           VfAction = "produce"
	ActionRaise             VfAction = "raise"
	ActionLower             VfAction = "lower"
	ActionModify            VfAction = "modify"
	ActionMove              VfAction = "move"
	ActionPickup            VfAction = "pickup"
	ActionDropoff           VfAction = "dropoff"
	ActionAccept            VfAction = "accept"
	ActionTransfer          VfAction = "transfer"
	ActionTransferCustody   VfAction = "transfer-custody"
	ActionTransferAllRights VfAction = "transfer-all-rights"
	ActionCite              VfAction = "cite"
)

// AllActions lists the action vocabulary in a fixed order.
func AllActions() []VfAction {
	return []VfAction{
		ActionWork, ActionDeliverService, ActionUse, ActionConsume, ActionProduce,
		ActionRaise, ActionLower, ActionModify, ActionMove, ActionPickup,
		ActionDropoff, ActionAccept, ActionTransfer, ActionTransferCustody,
		ActionTransferAllRights, ActionCite,
	}
}

// Valid reports whether a is part of the vocabulary.
func (a VfAction) Valid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// ActionFamily groups actions that may fulfill one another.
type ActionFamily string

const (
	FamilyService   ActionFamily = "service"
	FamilyTransfer  ActionFamily = "transfer"
	FamilyCustody   ActionFamily = "custody"
	FamilyCreation  ActionFamily = "creation"
	FamilyUsage     ActionFamily = "usage"
	FamilyLogistics ActionFamily = "logistics"
	FamilyOther     ActionFamily = "other"
)

// Family returns the fulfillment family of a.
func (a VfAction) Family() ActionFamily {
	switch a {
	case ActionWork, ActionDeliverService, ActionModify, ActionMove:
		return FamilyService
	case ActionTransfer, ActionTransferAllRights:
		return FamilyTransfer
	case ActionTransferCustody, ActionAccept:
		return FamilyCustody
	case ActionProduce, ActionRaise:
		return FamilyCreation
	case ActionUse, ActionConsume, ActionLower:
		return FamilyUsage
	case ActionPickup, ActionDropoff:
		return FamilyLogistics
	default:
		return FamilyOther
	}
}

// CompatibleActions reports whether an event with action observed can fulfill
// a commitment with action promised.
func CompatibleActions(promised, observed VfAction) bool {
	if promised == observed {
		return true
	}
	f := promised.Family()
	return f != FamilyOther && f == observed.Family()
}
