package model

// PayOperation describes one pay call that is partly funded by the airdrop
// budget.  EstimatedTotal includes EstimatedAirdrop.
type PayOperation struct {
	ID                    string `json:"id"`
	Chain                 string `json:"chain"`
	Token                 string `json:"token"`
	AirdropToken          string `json:"airdrop_token"`
	AirdropID             string `json:"airdrop_id"`
	Spender               string `json:"spender"`
	BudgetHolder          string `json:"budget_holder"`
	Beneficiary           string `json:"beneficiary"`
	CommissionBeneficiary string `json:"commission_beneficiary"`
	EstimatedTotal        int64  `json:"estimated_total"`
	EstimatedAirdrop      int64  `json:"estimated_airdrop"`
}

// EstimatedUserPortion is the part of the estimated total the spender pays
// out of pocket.
func (op *PayOperation) EstimatedUserPortion() int64 {
	return op.EstimatedTotal - op.EstimatedAirdrop
}

// PayActuals are the amounts the pay call really moved.
type PayActuals struct {
	BeneficiaryAmount int64 `json:"beneficiary_amount"`
	CommissionAmount  int64 `json:"commission_amount"`
	AirdropAmount     int64 `json:"airdrop_amount"`
}

func (a *PayActuals) UserPortion() int64 {
	return a.BeneficiaryAmount + a.CommissionAmount - a.AirdropAmount
}

// Reservation is what Before applied for an operation and is the input of
// the after-phase.
type Reservation struct {
	Op              *PayOperation    `json:"op"`
	ConsumedAirdrop int64            `json:"consumed_airdrop"`
	Usage           *UsageResult     `json:"usage"`
	Status          *ReconcileStatus `json:"status"`
}

// CacheFailure is a balance cache write that did not take effect.  The entry
// is left invalidated or stale and the ledger is unaffected.
type CacheFailure struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

type ReconcileStatus struct {
	OperationID   string         `json:"operation_id"`
	Decoded       bool           `json:"decoded"`
	CacheFailures []CacheFailure `json:"cache_failures"`
	Usage         *UsageResult   `json:"usage"`
}
