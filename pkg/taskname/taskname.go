package taskname

const (
	// Order facts from the order service
	OrderCompleted = "referral:order:completed"
	OrderRefunded  = "referral:order:refunded"

	// Settlement tasks
	SettlementRun = "referral:settlement:run"

	// Fraud tasks
	FraudSweep = "referral:fraud:sweep"
)
