package metrics

// Decision results used as the "result" label.
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
	ResultError = "error"
)

// EntitlementAllowed records an allowed decision for operation.
func EntitlementAllowed(operation string) {
	EntitlementDecisions.WithLabelValues(operation, ResultAllow).Inc()
}

// EntitlementDenied records a refused decision for operation.
func EntitlementDenied(operation string) {
	EntitlementDecisions.WithLabelValues(operation, ResultDeny).Inc()
}

// EntitlementErrored records a decision that failed on storage.
func EntitlementErrored(operation string) {
	EntitlementDecisions.WithLabelValues(operation, ResultError).Inc()
}

// Downgraded records a request served below the stored tier.
func Downgraded(reason string) {
	SubscriptionDowngrades.WithLabelValues(reason).Inc()
}

// QuotaDenied records a refused query for tier.
func QuotaDenied(tier string) {
	QuotaDenials.WithLabelValues(tier).Inc()
}

// Redemption records a redemption attempt outcome.
func Redemption(result string) {
	ReferralRedemptions.WithLabelValues(result).Inc()
}

// BreakerState records the storage breaker state as a gauge value.
func BreakerState(state int) {
	StorageBreakerState.Set(float64(state))
}
