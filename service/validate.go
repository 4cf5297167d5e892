package service

import (
	"github.com/abesuite/airdrop-ledger/constdef"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/utils"
)

func checkAirdropID(op string, airdropID string) error {
	if !utils.IsValidIdentifier(airdropID, constdef.MaxAirdropIDLength) {
		return errcode.New(errcode.KindInvalidInput, op, map[string]interface{}{
			"airdrop_id": airdropID,
		})
	}
	return nil
}

func normalizeUser(op string, userAddress string) (string, error) {
	normalized, err := utils.NormalizeAddress(userAddress)
	if err != nil {
		return "", errcode.Wrap(errcode.KindInvalidInput, op, err, map[string]interface{}{
			"user": userAddress,
		})
	}
	return normalized, nil
}
