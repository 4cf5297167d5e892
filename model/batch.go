package model

type UserGrant struct {
	Amount          int64 `json:"amount"`
	ExpiryTimestamp int64 `json:"expiry_timestamp"`
}

// BatchRequest distributes the proceeds of one funding transaction.  Grants
// is keyed by user address.
type BatchRequest struct {
	AirdropID       string               `json:"airdrop_id"`
	TransactionHash string               `json:"transaction_hash"`
	Grants          map[string]UserGrant `json:"grants"`
}

type BatchResult struct {
	ProofID         uint64 `json:"proof_id"`
	InsertedCount   int64  `json:"inserted_count"`
	TotalAmount     int64  `json:"total_amount"`
	AllocatedAmount int64  `json:"allocated_amount"`
}

type ProofDetails struct {
	ID              uint64 `json:"id"`
	TransactionHash string `json:"transaction_hash"`
	FundedAmount    int64  `json:"funded_amount"`
	AllocatedAmount int64  `json:"allocated_amount"`
	RemainingAmount int64  `json:"remaining_amount"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}
