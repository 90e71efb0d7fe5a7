package domain

// OperationKind names a protected operation.
type OperationKind string

const (
	OperationLookup      OperationKind = "lookup"
	OperationBookmark    OperationKind = "bookmark"
	OperationExport      OperationKind = "export"
	OperationAgencyAdmin OperationKind = "agency_admin"
	OperationReferral    OperationKind = "referral"
)

// OperationPolicy describes what an operation needs from the principal.
type OperationPolicy struct {
	RequiresAuth bool
	MinTier      Tier
	Metered      bool // counts against the daily query quota
}

// Operations is the catalog of protected operations.
var Operations = map[OperationKind]OperationPolicy{
	OperationLookup:      {RequiresAuth: false, MinTier: TierFree, Metered: true},
	OperationBookmark:    {RequiresAuth: true, MinTier: TierFree},
	OperationExport:      {RequiresAuth: true, MinTier: TierPro},
	OperationAgencyAdmin: {RequiresAuth: true, MinTier: TierEnterprise},
	OperationReferral:    {RequiresAuth: true, MinTier: TierFree},
}

// PolicyFor returns the policy for op and whether op is known.
func PolicyFor(op OperationKind) (OperationPolicy, bool) {
	p, ok := Operations[op]
	return p, ok
}
