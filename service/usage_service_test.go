package service

import (
	"context"
	"errors"
	"testing"

	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/daltest"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/model"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func TestUsageServiceImpl_NoOp(t *testing.T) {
	u := GetUsageService()
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		// A nil handle fails on any store access.
		res, err := u.Consume(ctx, nil, testAirdropID, testAddress(1), amount)
		require.NoError(t, err)
		require.True(t, res.FullyApplied)
		require.Empty(t, res.Adjustments)
		require.Zero(t, res.Applied)

		res, err = u.Refund(ctx, nil, testAirdropID, testAddress(1), amount)
		require.NoError(t, err)
		require.True(t, res.FullyApplied)
		require.Empty(t, res.Adjustments)
	}
}

func TestUsageServiceImpl_InvalidInput(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()

	_, err := u.Consume(ctx, db, testAirdropID, "0x1234", 10)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)

	_, err = u.Consume(ctx, db, "  ", testAddress(1), 10)
	require.ErrorIs(t, err, errcode.ErrInvalidInput)

	_, err = u.GetAvailable(ctx, db, testAirdropID, "bob")
	require.ErrorIs(t, err, errcode.ErrInvalidInput)
}

func TestUsageServiceImpl_Conservation(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()
	user := testAddress(1)
	rows := seedGrants(t, db, user, [2]int64{500, 0})

	res, err := u.Consume(ctx, db, testAirdropID, user, 100)
	require.NoError(t, err)
	require.True(t, res.FullyApplied)
	require.Equal(t, []model.Adjustment{{GrantID: rows[0].ID, Amount: 100}}, res.Adjustments)
	require.EqualValues(t, 100, usedAmount(t, db, rows[0].ID))

	res, err = u.Refund(ctx, db, testAirdropID, user, 100)
	require.NoError(t, err)
	require.True(t, res.FullyApplied)
	require.Equal(t, []model.Adjustment{{GrantID: rows[0].ID, Amount: 100}}, res.Adjustments)
	require.Zero(t, usedAmount(t, db, rows[0].ID))
}

func TestUsageServiceImpl_ConsumeAcrossRows(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()
	user := testAddress(2)
	rows := seedGrants(t, db, user, [2]int64{10, 0}, [2]int64{20, 0}, [2]int64{30, 0})

	res, err := u.Consume(ctx, db, testAirdropID, user, 25)
	require.NoError(t, err)
	require.Equal(t, []model.Adjustment{
		{GrantID: rows[0].ID, Amount: 10},
		{GrantID: rows[1].ID, Amount: 15},
	}, res.Adjustments)
	require.EqualValues(t, 25, res.Applied)

	available, err := u.GetAvailable(ctx, db, testAirdropID, user)
	require.NoError(t, err)
	require.EqualValues(t, 35, available)

	// Refund walks the same order.
	res, err = u.Refund(ctx, db, testAirdropID, user, 12)
	require.NoError(t, err)
	require.Equal(t, []model.Adjustment{
		{GrantID: rows[0].ID, Amount: 10},
		{GrantID: rows[1].ID, Amount: 2},
	}, res.Adjustments)

	grants, err := u.GetGrants(ctx, db, testAirdropID, user)
	require.NoError(t, err)
	require.Len(t, grants, 3)
	require.EqualValues(t, 0, grants[0].UsedAmount)
	require.EqualValues(t, 13, grants[1].UsedAmount)
	require.EqualValues(t, 7, grants[1].AvailableAmount)
}

func TestUsageServiceImpl_PartialFulfillment(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()
	user := testAddress(3)
	rows := seedGrants(t, db, user, [2]int64{100, 90}, [2]int64{50, 50})

	res, err := u.Consume(ctx, db, testAirdropID, user, 30)
	require.ErrorIs(t, err, errcode.ErrPartialFulfillment)
	require.False(t, res.FullyApplied)
	require.Equal(t, []model.Adjustment{{GrantID: rows[0].ID, Amount: 10}}, res.Adjustments)
	require.EqualValues(t, 10, res.Applied)
	require.EqualValues(t, 20, res.Remaining())

	require.EqualValues(t, 100, usedAmount(t, db, rows[0].ID))
	require.EqualValues(t, 50, usedAmount(t, db, rows[1].ID))

	// Every row exhausted: still partial, with nothing applied.
	res, err = u.Consume(ctx, db, testAirdropID, user, 1)
	require.ErrorIs(t, err, errcode.ErrPartialFulfillment)
	require.Empty(t, res.Adjustments)

	res, err = u.Refund(ctx, db, testAirdropID, user, 200)
	require.ErrorIs(t, err, errcode.ErrPartialFulfillment)
	require.EqualValues(t, 150, res.Applied)
}

func TestUsageServiceImpl_NoEligibleGrant(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()
	seedGrants(t, db, testAddress(4), [2]int64{100, 0})

	res, err := u.Consume(ctx, db, testAirdropID, testAddress(5), 10)
	require.ErrorIs(t, err, errcode.ErrNoEligibleGrant)
	require.Empty(t, res.Adjustments)

	_, err = u.Refund(ctx, db, "airdrop-2", testAddress(4), 10)
	require.ErrorIs(t, err, errcode.ErrNoEligibleGrant)
}

func TestUsageServiceImpl_ConcurrentConsume(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()
	user := testAddress(6)
	rows := seedGrants(t, db, user, [2]int64{100, 0})

	results := make([]*model.UsageResult, 2)
	errs := make([]error, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			results[i], errs[i] = u.Consume(ctx, db, testAirdropID, user, 60)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	var applied int64
	for i := 0; i < 2; i++ {
		if errs[i] == nil {
			succeeded++
			require.EqualValues(t, 60, results[i].Applied)
		} else {
			require.ErrorIs(t, errs[i], errcode.ErrPartialFulfillment)
			require.Less(t, results[i].Applied, int64(60))
		}
		applied += results[i].Applied
	}
	require.Equal(t, 1, succeeded)

	used := usedAmount(t, db, rows[0].ID)
	require.LessOrEqual(t, used, int64(100))
	require.Equal(t, applied, used)
}

func TestUsageServiceImpl_ConcurrentStress(t *testing.T) {
	db := daltest.OpenDB(t)
	u := GetUsageService()
	ctx := context.Background()
	user := testAddress(7)
	rows := seedGrants(t, db, user, [2]int64{100, 0}, [2]int64{35, 0})

	const workers = 16
	applied := make([]int64, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			res, _ := u.Consume(ctx, db, testAirdropID, user, 15)
			applied[i] = res.Applied
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var total int64
	for _, a := range applied {
		total += a
	}
	used := usedAmount(t, db, rows[0].ID) + usedAmount(t, db, rows[1].ID)
	require.Equal(t, total, used)
	require.LessOrEqual(t, usedAmount(t, db, rows[0].ID), int64(100))
	require.LessOrEqual(t, usedAmount(t, db, rows[1].ID), int64(35))

	violations, err := dao.GetGrantInfoDAOImpl().GetViolationNum(ctx, db)
	require.NoError(t, err)
	require.Zero(t, violations)
}

// racingGrantDAO reports a lost race for the listed ids and can fail writes
// on others.
type racingGrantDAO struct {
	dao.GrantInfoDAO
	lose   map[uint64]bool
	failOn map[uint64]bool
	calls  []uint64
}

func (r *racingGrantDAO) AddUsedAmount(ctx context.Context, tx *gorm.DB, id uint64, amount int64) (int64, error) {
	r.calls = append(r.calls, id)
	if r.failOn[id] {
		return 0, errors.New("connection reset")
	}
	if r.lose[id] {
		return 0, nil
	}
	return r.GrantInfoDAO.AddUsedAmount(ctx, tx, id, amount)
}

func TestUsageServiceImpl_LostRaceNotRetried(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	user := testAddress(8)
	rows := seedGrants(t, db, user, [2]int64{50, 0}, [2]int64{50, 0})

	fake := &racingGrantDAO{GrantInfoDAO: dao.GetGrantInfoDAOImpl(), lose: map[uint64]bool{rows[0].ID: true}}
	u := NewUsageService(fake)

	res, err := u.Consume(ctx, db, testAirdropID, user, 70)
	require.ErrorIs(t, err, errcode.ErrPartialFulfillment)
	require.Equal(t, []model.Adjustment{{GrantID: rows[1].ID, Amount: 50}}, res.Adjustments)
	require.Equal(t, []uint64{rows[0].ID, rows[1].ID}, fake.calls)
	require.Zero(t, usedAmount(t, db, rows[0].ID))
}

func TestUsageServiceImpl_PersistenceErrorKeepsLog(t *testing.T) {
	db := daltest.OpenDB(t)
	ctx := context.Background()
	user := testAddress(9)
	rows := seedGrants(t, db, user, [2]int64{10, 0}, [2]int64{50, 0})

	fake := &racingGrantDAO{GrantInfoDAO: dao.GetGrantInfoDAOImpl(), failOn: map[uint64]bool{rows[1].ID: true}}
	u := NewUsageService(fake)

	res, err := u.Consume(ctx, db, testAirdropID, user, 30)
	require.ErrorIs(t, err, errcode.ErrPersistence)
	require.Equal(t, []model.Adjustment{{GrantID: rows[0].ID, Amount: 10}}, res.Adjustments)
	require.EqualValues(t, 10, res.Applied)
	require.False(t, res.FullyApplied)
}

func TestUsageServiceImpl_NilDB(t *testing.T) {
	u := GetUsageService()
	_, err := u.Consume(context.Background(), nil, testAirdropID, testAddress(1), 10)
	require.ErrorIs(t, err, errcode.ErrPersistence)
	require.ErrorIs(t, err, errcode.ErrNilGormDB)
	require.Equal(t, errcode.KindPersistence, errcode.KindOf(err))
}
