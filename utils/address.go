package utils

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrInvalidAddress         = errors.New("invalid account address")
	ErrInvalidTransactionHash = errors.New("invalid transaction hash")
)

// NormalizeAddress checks that addr is a 20-byte hex account address and
// returns its EIP-55 checksummed form, so the same account always maps to
// the same ledger rows and cache keys.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(addr).Hex(), nil
}

// NormalizeTransactionHash checks that hash is a 0x-prefixed 32-byte hex
// string and returns it lower-cased.
func NormalizeTransactionHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	b, err := hexutil.Decode(hash)
	if err != nil || len(b) != common.HashLength {
		return "", ErrInvalidTransactionHash
	}
	return hexutil.Encode(b), nil
}
