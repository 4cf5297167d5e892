package do

import "time"

// GrantInfo is one airdrop grant made to a user from a funded batch.
// UsedAmount only ever moves through conditional updates and must stay
// within [0, GrantedAmount].  Rows are never deleted.
type GrantInfo struct {
	ID              uint64 `gorm:"primaryKey"`
	AirdropID       string `gorm:"index:idx_airdrop_user,priority:1;type:varchar(64);not null"`
	UserAddress     string `gorm:"index:idx_airdrop_user,priority:2;index:idx_user_address;type:varchar(64);not null"`
	GrantedAmount   int64  `gorm:"not null;default:0;check:chk_grant_infos_granted_nonneg,granted_amount >= 0"`
	UsedAmount      int64  `gorm:"not null;default:0;check:chk_grant_infos_used_range,used_amount >= 0 AND used_amount <= granted_amount"`
	ExpiryTimestamp int64  `gorm:"not null;default:0"`
	ProofID         uint64 `gorm:"index:idx_proof_id;not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Available returns the part of the grant that has not been used yet.
func (g *GrantInfo) Available() int64 {
	return g.GrantedAmount - g.UsedAmount
}
