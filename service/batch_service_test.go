package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/daltest"
	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/model"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var testLedgerConfig = &model.LedgerConfig{
	Chain:        "eth",
	AirdropToken: "AIR",
	MaxBatchSize: 3,
}

func seedProof(t *testing.T, db *gorm.DB, hash string, funded int64, allocated int64) *do.AllocationProofInfo {
	t.Helper()
	info := &do.AllocationProofInfo{TransactionHash: hash, FundedAmount: funded, AllocatedAmount: allocated}
	_, err := dao.GetAllocationProofInfoDAOImpl().Create(context.Background(), db, info)
	require.NoError(t, err)
	return info
}

func proofAllocated(t *testing.T, db *gorm.DB, id uint64) int64 {
	t.Helper()
	info, err := dao.GetAllocationProofInfoDAOImpl().GetByID(context.Background(), db, id)
	require.NoError(t, err)
	return info.AllocatedAmount
}

func TestBatchServiceImpl_AllocateBatch(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	proof := seedProof(t, db, testTxHash(1), 1000, 100)
	invalidator := &recordingInvalidator{}
	b := NewBatchService(testLedgerConfig, GetProofService(), dao.GetGrantInfoDAOImpl(), invalidator)

	req := &model.BatchRequest{
		AirdropID:       testAirdropID,
		TransactionHash: testTxHash(1),
		Grants: map[string]model.UserGrant{
			strings.ToLower(testAddress(3)): {Amount: 300, ExpiryTimestamp: 1700000000},
			testAddress(1):                  {Amount: 100},
			testAddress(2):                  {Amount: 200},
		},
	}
	res, err := b.AllocateBatch(ctx, db, req)
	require.NoError(t, err)
	require.Equal(t, proof.ID, res.ProofID)
	require.EqualValues(t, 3, res.InsertedCount)
	require.EqualValues(t, 600, res.TotalAmount)
	require.EqualValues(t, 700, res.AllocatedAmount)
	require.EqualValues(t, 700, proofAllocated(t, db, proof.ID))

	grants, err := dao.GetGrantInfoDAOImpl().GetByUser(ctx, db, testAirdropID, testAddress(3))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.EqualValues(t, 300, grants[0].GrantedAmount)
	require.EqualValues(t, 1700000000, grants[0].ExpiryTimestamp)
	require.Equal(t, proof.ID, grants[0].ProofID)

	require.Len(t, invalidator.keys, 3)
	for i, key := range invalidator.keys {
		require.Equal(t, "eth", key.Chain)
		require.Equal(t, "AIR", key.Token)
		require.Equal(t, testAddress(int64(i+1)), key.Owner)
	}
}

func TestBatchServiceImpl_FundingCeiling(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	proof := seedProof(t, db, testTxHash(1), 1000, 950)
	invalidator := &recordingInvalidator{}
	b := NewBatchService(testLedgerConfig, GetProofService(), dao.GetGrantInfoDAOImpl(), invalidator)

	_, err := b.AllocateBatch(ctx, db, &model.BatchRequest{
		AirdropID:       testAirdropID,
		TransactionHash: testTxHash(1),
		Grants: map[string]model.UserGrant{
			testAddress(1): {Amount: 40},
			testAddress(2): {Amount: 20},
		},
	})
	require.ErrorIs(t, err, errcode.ErrFundingCeilingExceeded)
	require.EqualError(t, err, "allocateBatch: FundingCeilingExceeded allocated=950 funded=1000 requested=60")
	require.EqualValues(t, 950, proofAllocated(t, db, proof.ID))
	require.Empty(t, invalidator.keys)

	granted, _, err := dao.GetGrantInfoDAOImpl().GetTotals(ctx, db)
	require.NoError(t, err)
	require.Zero(t, granted)
}

func TestBatchServiceImpl_Rejects(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	seedProof(t, db, testTxHash(1), 1000, 0)
	b := NewBatchService(testLedgerConfig, GetProofService(), dao.GetGrantInfoDAOImpl(), nil)

	tests := []struct {
		name string
		req  *model.BatchRequest
		want error
	}{
		{
			name: "empty",
			req:  &model.BatchRequest{AirdropID: testAirdropID, TransactionHash: testTxHash(1)},
			want: errcode.ErrInvalidInput,
		},
		{
			name: "too_large",
			req: &model.BatchRequest{AirdropID: testAirdropID, TransactionHash: testTxHash(1), Grants: map[string]model.UserGrant{
				testAddress(1): {Amount: 1}, testAddress(2): {Amount: 1}, testAddress(3): {Amount: 1}, testAddress(4): {Amount: 1},
			}},
			want: errcode.ErrBatchTooLarge,
		},
		{
			name: "zero_amount",
			req: &model.BatchRequest{AirdropID: testAirdropID, TransactionHash: testTxHash(1), Grants: map[string]model.UserGrant{
				testAddress(1): {Amount: 0},
			}},
			want: errcode.ErrInvalidInput,
		},
		{
			name: "bad_address",
			req: &model.BatchRequest{AirdropID: testAirdropID, TransactionHash: testTxHash(1), Grants: map[string]model.UserGrant{
				"0xnothex": {Amount: 1},
			}},
			want: errcode.ErrInvalidInput,
		},
		{
			name: "duplicate_after_normalization",
			req: &model.BatchRequest{AirdropID: testAirdropID, TransactionHash: testTxHash(1), Grants: map[string]model.UserGrant{
				testAddress(10):                  {Amount: 1},
				strings.ToLower(testAddress(10)): {Amount: 1},
			}},
			want: errcode.ErrInvalidInput,
		},
		{
			name: "unknown_transaction",
			req: &model.BatchRequest{AirdropID: testAirdropID, TransactionHash: testTxHash(2), Grants: map[string]model.UserGrant{
				testAddress(1): {Amount: 1},
			}},
			want: errcode.ErrUnknownFundingTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.AllocateBatch(ctx, db, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := b.AllocateBatch(ctx, db, nil)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)
}

type failingInsertDAO struct {
	dao.GrantInfoDAO
}

func (f *failingInsertDAO) MCreate(ctx context.Context, tx *gorm.DB, infos []*do.GrantInfo) (int64, error) {
	return 0, errors.New("disk full")
}

func TestBatchServiceImpl_Compensation(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	proof := seedProof(t, db, testTxHash(1), 1000, 200)
	invalidator := &recordingInvalidator{}
	b := NewBatchService(testLedgerConfig, GetProofService(), &failingInsertDAO{GrantInfoDAO: dao.GetGrantInfoDAOImpl()}, invalidator)

	_, err := b.AllocateBatch(ctx, db, &model.BatchRequest{
		AirdropID:       testAirdropID,
		TransactionHash: testTxHash(1),
		Grants: map[string]model.UserGrant{
			testAddress(1): {Amount: 300},
		},
	})
	require.ErrorIs(t, err, errcode.ErrPersistence)

	var le *errcode.LedgerError
	require.True(t, errors.As(err, &le))
	require.Equal(t, true, le.Detail["compensated"])
	require.EqualValues(t, 200, proofAllocated(t, db, proof.ID))
	require.Empty(t, invalidator.keys)
}

func TestBatchServiceImpl_ConcurrentBatches(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	proof := seedProof(t, db, testTxHash(1), 1000, 0)
	b := NewBatchService(testLedgerConfig, GetProofService(), dao.GetGrantInfoDAOImpl(), nil)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			_, errs[i] = b.AllocateBatch(ctx, db, &model.BatchRequest{
				AirdropID:       testAirdropID,
				TransactionHash: testTxHash(1),
				Grants: map[string]model.UserGrant{
					testAddress(int64(i + 1)): {Amount: 600},
				},
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, errcode.ErrFundingCeilingExceeded)
	}
	require.Equal(t, 1, succeeded)
	require.EqualValues(t, 600, proofAllocated(t, db, proof.ID))

	violations, err := dao.GetAllocationProofInfoDAOImpl().GetViolationNum(ctx, db)
	require.NoError(t, err)
	require.Zero(t, violations)
}

func TestLedgerBalanceAuthority(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	user := testAddress(1)
	seedGrants(t, db, user, [2]int64{100, 30}, [2]int64{50, 0})

	a := NewLedgerBalanceAuthority(db, testAirdropID, "AIR", GetUsageService())
	balance, err := a.ReadBalance(ctx, "AIR", strings.ToLower(user))
	require.NoError(t, err)
	require.EqualValues(t, 120, balance)

	_, err = a.ReadBalance(ctx, "USDT", user)
	require.Error(t, err)
}
