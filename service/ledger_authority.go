package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// LedgerBalanceAuthority serves airdrop token balances by recomputing them
// from the grant rows of one airdrop.
type LedgerBalanceAuthority struct {
	db           *gorm.DB
	airdropID    string
	airdropToken string
	usageService UsageService
}

func NewLedgerBalanceAuthority(db *gorm.DB, airdropID string, airdropToken string, usageService UsageService) *LedgerBalanceAuthority {
	return &LedgerBalanceAuthority{
		db:           db,
		airdropID:    airdropID,
		airdropToken: airdropToken,
		usageService: usageService,
	}
}

func (l *LedgerBalanceAuthority) ReadBalance(ctx context.Context, token string, owner string) (int64, error) {
	if token != l.airdropToken {
		return 0, fmt.Errorf("token %v is not served by the ledger, only %v", token, l.airdropToken)
	}
	return l.usageService.GetAvailable(ctx, l.db, l.airdropID, owner)
}
