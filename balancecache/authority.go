package balancecache

import (
	"context"
	"fmt"
)

// AuthorityMux routes balance reads to a per-token authority, falling back
// to a default one.
type AuthorityMux struct {
	byToken  map[string]BalanceAuthority
	fallback BalanceAuthority
}

func NewAuthorityMux(fallback BalanceAuthority) *AuthorityMux {
	return &AuthorityMux{
		byToken:  make(map[string]BalanceAuthority),
		fallback: fallback,
	}
}

// Handle registers authority for token.  It is not safe to call once reads
// have started.
func (m *AuthorityMux) Handle(token string, authority BalanceAuthority) {
	m.byToken[token] = authority
}

func (m *AuthorityMux) ReadBalance(ctx context.Context, token string, owner string) (int64, error) {
	if authority, ok := m.byToken[token]; ok {
		return authority.ReadBalance(ctx, token, owner)
	}
	if m.fallback == nil {
		return 0, fmt.Errorf("no balance authority for token %v", token)
	}
	return m.fallback.ReadBalance(ctx, token, owner)
}
