package model

// Adjustment records the amount applied to one grant row.
type Adjustment struct {
	GrantID uint64 `json:"grant_id"`
	Amount  int64  `json:"amount"`
}

// UsageResult is the outcome of a consume or refund pass.  Adjustments lists
// every row that was actually changed, in visiting order, so a caller can
// undo exactly what was applied.
type UsageResult struct {
	AirdropID    string       `json:"airdrop_id"`
	UserAddress  string       `json:"user_address"`
	Requested    int64        `json:"requested"`
	Applied      int64        `json:"applied"`
	FullyApplied bool         `json:"fully_applied"`
	Adjustments  []Adjustment `json:"adjustments"`
}

func (r *UsageResult) Remaining() int64 {
	if r == nil || r.Requested <= r.Applied {
		return 0
	}
	return r.Requested - r.Applied
}

type GrantDetails struct {
	ID              uint64 `json:"id"`
	AirdropID       string `json:"airdrop_id"`
	UserAddress     string `json:"user_address"`
	GrantedAmount   int64  `json:"granted_amount"`
	UsedAmount      int64  `json:"used_amount"`
	AvailableAmount int64  `json:"available_amount"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
	ProofID         uint64 `json:"proof_id"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}
