package do

import "time"

// AllocationProofInfo tracks one funding transaction and how much of it has
// already been materialized into grant rows.
type AllocationProofInfo struct {
	ID              uint64 `gorm:"primaryKey"`
	TransactionHash string `gorm:"uniqueIndex:unique_idx_transaction_hash;type:varchar(66);not null"`
	FundedAmount    int64  `gorm:"not null;default:0;check:chk_allocation_proof_infos_funded_nonneg,funded_amount >= 0"`
	AllocatedAmount int64  `gorm:"not null;default:0;check:chk_allocation_proof_infos_allocated_range,allocated_amount >= 0 AND allocated_amount <= funded_amount"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *AllocationProofInfo) Remaining() int64 {
	return p.FundedAmount - p.AllocatedAmount
}
