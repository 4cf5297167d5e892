package balancecache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abesuite/airdrop-ledger/utils"
)

var (
	ErrNegativeBalance = errors.New("balance would be negative")
	ErrBalanceOverflow = errors.New("balance would overflow")
	ErrInvalidKey      = errors.New("invalid cache key")
)

// KeySeparator joins the key fields; chain and token may not contain it.
const KeySeparator = ":"

// Key identifies one cached balance.  Owner is always the checksummed
// address so that differently cased inputs share an entry.
type Key struct {
	Chain string
	Token string
	Owner string
}

func NewKey(chain string, token string, owner string) (Key, error) {
	if chain == "" || token == "" || strings.Contains(chain, KeySeparator) || strings.Contains(token, KeySeparator) {
		return Key{}, fmt.Errorf("%w: chain %q token %q", ErrInvalidKey, chain, token)
	}
	normalized, err := utils.NormalizeAddress(owner)
	if err != nil {
		return Key{}, fmt.Errorf("cache key owner %q: %w", owner, err)
	}
	return Key{Chain: chain, Token: token, Owner: normalized}, nil
}

func (k Key) String() string {
	return k.Chain + KeySeparator + k.Token + KeySeparator + k.Owner
}

// Cache is a plain key/value store of balances.  A miss is reported through
// the boolean and is never the same as a zero balance.  Implementations
// perform no numeric validation.
type Cache interface {
	Get(key Key) (int64, bool, error)
	Set(key Key, value int64) error
	Delete(key Key) error
}
