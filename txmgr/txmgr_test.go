package txmgr

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/daltest"
	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/model"
	"github.com/abesuite/airdrop-ledger/service"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testChain        = "eth"
	testToken        = "USDT"
	testAirdropToken = "AIR"
	testAirdropID    = "airdrop-1"
)

var (
	spender     = common.BigToAddress(big.NewInt(1)).Hex()
	budget      = common.BigToAddress(big.NewInt(2)).Hex()
	beneficiary = common.BigToAddress(big.NewInt(3)).Hex()
	commission  = common.BigToAddress(big.NewInt(4)).Hex()
)

type fakeAuthority struct {
	mu       sync.Mutex
	balances map[string]int64
	reads    map[string]int
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		balances: map[string]int64{
			testToken + ":" + spender: 1000,
			testToken + ":" + budget:  5000,
		},
		reads: make(map[string]int),
	}
}

func (f *fakeAuthority) ReadBalance(ctx context.Context, token string, owner string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[token+":"+owner]++
	return f.balances[token+":"+owner], nil
}

func (f *fakeAuthority) readsOf(token string, owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[token+":"+owner]
}

type fixedDecoder struct {
	actuals *model.PayActuals
	err     error
}

func (d *fixedDecoder) DecodePayResult(ctx context.Context, raw []byte) (*model.PayActuals, error) {
	return d.actuals, d.err
}

type fixture struct {
	db        *gorm.DB
	cache     balancecache.Cache
	authority *fakeAuthority
	decoder   *fixedDecoder
	grant     *do.GrantInfo
	m         *TxManager
}

func newFixture(t *testing.T) *fixture {
	db := daltest.OpenDB(t)
	grant := &do.GrantInfo{AirdropID: testAirdropID, UserAddress: spender, GrantedAmount: 100}
	_, err := dao.GetGrantInfoDAOImpl().Create(context.Background(), db, grant)
	require.NoError(t, err)

	cache, err := balancecache.NewLRUCache(64)
	require.NoError(t, err)
	authority := newFakeAuthority()
	decoder := &fixedDecoder{}
	reader := balancecache.NewReader(cache, authority, 0, 0)

	return &fixture{
		db:        db,
		cache:     cache,
		authority: authority,
		decoder:   decoder,
		grant:     grant,
		m:         NewTxManager(db, service.GetUsageService(), reader, decoder),
	}
}

func (f *fixture) cached(t *testing.T, token string, owner string) (int64, bool) {
	t.Helper()
	value, ok, err := f.cache.Get(balancecache.Key{Chain: testChain, Token: token, Owner: owner})
	require.NoError(t, err)
	return value, ok
}

func (f *fixture) used(t *testing.T) int64 {
	t.Helper()
	info, err := dao.GetGrantInfoDAOImpl().GetByID(context.Background(), f.db, f.grant.ID)
	require.NoError(t, err)
	return info.UsedAmount
}

func newOperation(total int64, airdrop int64) *model.PayOperation {
	return &model.PayOperation{
		Chain:                 testChain,
		Token:                 testToken,
		AirdropToken:          testAirdropToken,
		AirdropID:             testAirdropID,
		Spender:               spender,
		BudgetHolder:          budget,
		Beneficiary:           beneficiary,
		CommissionBeneficiary: commission,
		EstimatedTotal:        total,
		EstimatedAirdrop:      airdrop,
	}
}

func TestTxManager_Before(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op := newOperation(150, 50)
	res, err := f.m.Before(ctx, op)
	require.NoError(t, err)
	require.NotEmpty(t, res.Op.ID)
	require.Equal(t, res.Op.ID, res.Status.OperationID)
	require.Empty(t, op.ID)
	require.NotSame(t, op, res.Op)
	require.EqualValues(t, 50, res.ConsumedAirdrop)
	require.Empty(t, res.Status.CacheFailures)
	require.EqualValues(t, 50, f.used(t))

	require.Equal(t, 1, f.authority.readsOf(testToken, spender))
	require.Equal(t, 1, f.authority.readsOf(testToken, budget))

	value, ok := f.cached(t, testToken, spender)
	require.True(t, ok)
	require.EqualValues(t, 900, value)
	value, ok = f.cached(t, testToken, budget)
	require.True(t, ok)
	require.EqualValues(t, 4950, value)

	// A second reservation is served from the cache.
	_, err = f.m.Before(ctx, newOperation(20, 10))
	require.NoError(t, err)
	require.Equal(t, 1, f.authority.readsOf(testToken, spender))
	value, _ = f.cached(t, testToken, spender)
	require.EqualValues(t, 890, value)
}

func TestTxManager_BeforeNeverCachesNegative(t *testing.T) {
	f := newFixture(t)
	f.authority.balances[testToken+":"+spender] = 30

	res, err := f.m.Before(context.Background(), newOperation(150, 50))
	require.NoError(t, err)
	require.Equal(t, 1, f.authority.readsOf(testToken, spender))

	_, ok := f.cached(t, testToken, spender)
	require.False(t, ok)
	require.Len(t, res.Status.CacheFailures, 1)
	require.Equal(t, "adjust", res.Status.CacheFailures[0].Action)
	require.EqualValues(t, 50, f.used(t))
}

func TestTxManager_BeforeUnwindsPartialConsume(t *testing.T) {
	f := newFixture(t)

	res, err := f.m.Before(context.Background(), newOperation(200, 150))
	require.ErrorIs(t, err, errcode.ErrPartialFulfillment)
	require.Nil(t, res)
	require.Zero(t, f.used(t))

	value, ok := f.cached(t, testToken, spender)
	require.True(t, ok)
	require.EqualValues(t, 1000, value)
	_, ok = f.cached(t, testToken, budget)
	require.False(t, ok)
}

func TestTxManager_BeforeInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.Before(ctx, nil)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)

	_, err = f.m.Before(ctx, newOperation(10, 20))
	require.ErrorIs(t, err, errcode.ErrInvalidInput)

	op := newOperation(10, 5)
	op.Spender = "alice"
	_, err = f.m.Before(ctx, op)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)

	op = newOperation(10, 5)
	op.Chain = "eth:main"
	_, err = f.m.Before(ctx, op)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)

	op = newOperation(10, 5)
	op.AirdropToken = ""
	_, err = f.m.Before(ctx, op)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)
	require.Zero(t, f.used(t))
}

func TestTxManager_BeforeKeepsCallerID(t *testing.T) {
	f := newFixture(t)

	op := newOperation(20, 10)
	op.ID = "order-42"
	res, err := f.m.Before(context.Background(), op)
	require.NoError(t, err)
	require.Equal(t, "order-42", res.Op.ID)
	require.Equal(t, "order-42", res.Status.OperationID)
}

func TestTxManager_AfterSuccessWithActuals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.m.Before(ctx, newOperation(150, 50))
	require.NoError(t, err)

	status, err := f.m.AfterSuccessWithActuals(ctx, res, &model.PayActuals{
		BeneficiaryAmount: 120,
		CommissionAmount:  10,
		AirdropAmount:     40,
	})
	require.NoError(t, err)
	require.True(t, status.Decoded)
	require.Empty(t, status.CacheFailures)
	require.EqualValues(t, 10, status.Usage.Applied)
	require.EqualValues(t, 40, f.used(t))

	value, _ := f.cached(t, testToken, spender)
	require.EqualValues(t, 910, value)
	value, _ = f.cached(t, testToken, budget)
	require.EqualValues(t, 4960, value)
	value, _ = f.cached(t, testToken, beneficiary)
	require.EqualValues(t, 120, value)
	value, _ = f.cached(t, testToken, commission)
	require.EqualValues(t, 10, value)
}

func TestTxManager_AfterSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("more_airdrop_than_reserved", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.m.Before(ctx, newOperation(150, 50))
		require.NoError(t, err)

		f.decoder.actuals = &model.PayActuals{BeneficiaryAmount: 150, AirdropAmount: 60}
		status, err := f.m.AfterSuccess(ctx, res, []byte("receipt"))
		require.NoError(t, err)
		require.True(t, status.Decoded)
		require.EqualValues(t, 60, f.used(t))

		value, _ := f.cached(t, testToken, budget)
		require.EqualValues(t, 4940, value)
	})

	t.Run("undecodable", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.m.Before(ctx, newOperation(150, 50))
		require.NoError(t, err)

		f.decoder.err = ErrUndecodable
		status, err := f.m.AfterSuccess(ctx, res, []byte("garbage"))
		require.NoError(t, err)
		require.False(t, status.Decoded)
		require.EqualValues(t, 50, f.used(t))

		_, ok := f.cached(t, testToken, spender)
		require.False(t, ok)
		_, ok = f.cached(t, testToken, budget)
		require.False(t, ok)
	})

	t.Run("decoder_error", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.m.Before(ctx, newOperation(150, 50))
		require.NoError(t, err)

		f.decoder.err = errors.New("log index out of range")
		status, err := f.m.AfterSuccess(ctx, res, nil)
		require.NoError(t, err)
		require.False(t, status.Decoded)
		require.EqualValues(t, 50, f.used(t))
	})
}

func TestTxManager_AfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.m.Before(ctx, newOperation(150, 50))
	require.NoError(t, err)

	status, err := f.m.AfterFailure(ctx, res)
	require.NoError(t, err)
	require.Empty(t, status.CacheFailures)
	require.EqualValues(t, 50, status.Usage.Applied)
	require.Zero(t, f.used(t))

	value, _ := f.cached(t, testToken, spender)
	require.EqualValues(t, 1000, value)
	value, _ = f.cached(t, testToken, budget)
	require.EqualValues(t, 5000, value)

	_, err = f.m.AfterFailure(ctx, nil)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)
}

type brokenCache struct{}

func (brokenCache) Get(key balancecache.Key) (int64, bool, error) {
	return 0, false, errors.New("cache down")
}

func (brokenCache) Set(key balancecache.Key, value int64) error {
	return errors.New("cache down")
}

func (brokenCache) Delete(key balancecache.Key) error {
	return errors.New("cache down")
}

func TestTxManager_CacheFailuresAreNotErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reader := balancecache.NewReader(brokenCache{}, f.authority, 0, 0)
	m := NewTxManager(f.db, service.GetUsageService(), reader, f.decoder)

	res, err := m.Before(ctx, newOperation(150, 50))
	require.NoError(t, err)
	require.Len(t, res.Status.CacheFailures, 3)
	require.EqualValues(t, 50, f.used(t))

	status, err := m.AfterFailure(ctx, res)
	require.NoError(t, err)
	require.Len(t, status.CacheFailures, 3)
	require.Zero(t, f.used(t))
}
