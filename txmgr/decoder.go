package txmgr

import (
	"context"
	"errors"

	"github.com/abesuite/airdrop-ledger/model"
)

// ErrUndecodable is returned by a ResultDecoder that cannot extract the
// actual amounts from a pay result.
var ErrUndecodable = errors.New("pay result could not be decoded")

// ResultDecoder extracts the amounts a completed pay call actually moved.
type ResultDecoder interface {
	DecodePayResult(ctx context.Context, raw []byte) (*model.PayActuals, error)
}
