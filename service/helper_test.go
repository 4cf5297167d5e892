package service

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/do"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testAirdropID = "airdrop-1"

func testAddress(i int64) string {
	return common.BigToAddress(big.NewInt(i)).Hex()
}

func testTxHash(i int64) string {
	return common.BigToHash(big.NewInt(i)).Hex()
}

// seedGrants inserts one row per {granted, used} pair for user and returns
// them in insertion order.
func seedGrants(t *testing.T, db *gorm.DB, user string, rows ...[2]int64) []*do.GrantInfo {
	t.Helper()
	infos := make([]*do.GrantInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, &do.GrantInfo{
			AirdropID:     testAirdropID,
			UserAddress:   user,
			GrantedAmount: r[0],
			UsedAmount:    r[1],
		})
	}
	_, err := dao.GetGrantInfoDAOImpl().MCreate(context.Background(), db, infos)
	require.NoError(t, err)
	return infos
}

func usedAmount(t *testing.T, db *gorm.DB, id uint64) int64 {
	t.Helper()
	info, err := dao.GetGrantInfoDAOImpl().GetByID(context.Background(), db, id)
	require.NoError(t, err)
	require.NotNil(t, info)
	return info.UsedAmount
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []balancecache.Key
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, key balancecache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return nil
}
