// Package ppr defines Private Participation Receipts: the claim-type
// vocabulary, performance metrics, the bilateral signature and the receipt
// record each party keeps in its own ledger.
package ppr

import "sort"

// ClaimType says what kind of participation a receipt records.
type ClaimType string

const (
	ResourceContribution           ClaimType = "ResourceContribution"
	NetworkValidation              ClaimType = "NetworkValidation"
	ResponsibleTransfer            ClaimType = "ResponsibleTransfer"
	CustodyAcceptance              ClaimType = "CustodyAcceptance"
	ServiceCommitmentAccepted      ClaimType = "ServiceCommitmentAccepted"
	GoodFaithTransfer              ClaimType = "GoodFaithTransfer"
	ServiceFulfillmentCompleted    ClaimType = "ServiceFulfillmentCompleted"
	MaintenanceFulfillment         ClaimType = "MaintenanceFulfillment"
	StorageFulfillment             ClaimType = "StorageFulfillment"
	TransportFulfillment           ClaimType = "TransportFulfillment"
	EndOfLifeDeclaration           ClaimType = "EndOfLifeDeclaration"
	EndOfLifeValidation            ClaimType = "EndOfLifeValidation"
	DisputeResolutionParticipation ClaimType = "DisputeResolutionParticipation"
	GovernanceCompliance           ClaimType = "GovernanceCompliance"
)

// Category groups claim types for filtering and reporting.
type Category string

const (
	CategoryResource   Category = "resource"
	CategoryCustody    Category = "custody"
	CategoryService    Category = "service"
	CategoryEndOfLife  Category = "end_of_life"
	CategoryGovernance Category = "governance"
)

var claimCategories = map[ClaimType]Category{
	ResourceContribution:           CategoryResource,
	NetworkValidation:              CategoryResource,
	ResponsibleTransfer:            CategoryCustody,
	CustodyAcceptance:              CategoryCustody,
	GoodFaithTransfer:              CategoryCustody,
	ServiceCommitmentAccepted:      CategoryService,
	ServiceFulfillmentCompleted:    CategoryService,
	MaintenanceFulfillment:         CategoryService,
	StorageFulfillment:             CategoryService,
	TransportFulfillment:           CategoryService,
	EndOfLifeDeclaration:           CategoryEndOfLife,
	EndOfLifeValidation:            CategoryEndOfLife,
	DisputeResolutionParticipation: CategoryGovernance,
	GovernanceCompliance:           CategoryGovernance,
}

// Valid reports whether t is a known claim type.
func (t ClaimType) Valid() bool {
	_, ok := claimCategories[t]
	return ok
}

// Category returns the category of t, or "" for unknown types.
func (t ClaimType) Category() Category {
	return claimCategories[t]
}

// AllClaimTypes returns every claim type in sorted order.
func AllClaimTypes() []ClaimType {
	out := make([]ClaimType, 0, len(claimCategories))
	for t := range claimCategories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllCategories returns every category in sorted order.
func AllCategories() []Category {
	return []Category{CategoryCustody, CategoryEndOfLife, CategoryGovernance, CategoryResource, CategoryService}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryResource, CategoryCustody, CategoryService, CategoryEndOfLife, CategoryGovernance:
		return true
	}
	return false
}
