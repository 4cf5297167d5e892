package model

import "github.com/abesuite/airdrop-ledger/dal/do"

func ConvertGrantInfoToDetails(info *do.GrantInfo) *GrantDetails {
	if info == nil {
		return nil
	}
	return &GrantDetails{
		ID:              info.ID,
		AirdropID:       info.AirdropID,
		UserAddress:     info.UserAddress,
		GrantedAmount:   info.GrantedAmount,
		UsedAmount:      info.UsedAmount,
		AvailableAmount: info.Available(),
		ExpiryTimestamp: info.ExpiryTimestamp,
		ProofID:         info.ProofID,
		CreatedAt:       info.CreatedAt.Unix(),
		UpdatedAt:       info.UpdatedAt.Unix(),
	}
}

func ConvertAllocationProofInfoToDetails(info *do.AllocationProofInfo) *ProofDetails {
	if info == nil {
		return nil
	}
	return &ProofDetails{
		ID:              info.ID,
		TransactionHash: info.TransactionHash,
		FundedAmount:    info.FundedAmount,
		AllocatedAmount: info.AllocatedAmount,
		RemainingAmount: info.Remaining(),
		CreatedAt:       info.CreatedAt.Unix(),
		UpdatedAt:       info.UpdatedAt.Unix(),
	}
}

func ConvertUserGrantToDO(airdropID string, userAddress string, proofID uint64, grant UserGrant) *do.GrantInfo {
	return &do.GrantInfo{
		AirdropID:       airdropID,
		UserAddress:     userAddress,
		GrantedAmount:   grant.Amount,
		ExpiryTimestamp: grant.ExpiryTimestamp,
		ProofID:         proofID,
	}
}
