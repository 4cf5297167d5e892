package service

import (
	"context"

	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/metrics"
	"github.com/abesuite/airdrop-ledger/model"

	"gorm.io/gorm"
)

const (
	opConsume = "consume"
	opRefund  = "refund"
)

// UsageService debits and credits a user's airdrop usage across their grant
// rows.  It takes no locks: every row change is a conditional update, and a
// row whose guard fails at write time is skipped for the rest of the call.
type UsageService interface {
	Consume(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string, amount int64) (*model.UsageResult, error)
	Refund(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string, amount int64) (*model.UsageResult, error)
	GetGrants(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*model.GrantDetails, error)
	GetAvailable(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) (int64, error)
}

type UsageServiceImpl struct {
	grantInfoDAO dao.GrantInfoDAO
}

var usageService UsageService = &UsageServiceImpl{
	grantInfoDAO: dao.GetGrantInfoDAOImpl(),
}

func GetUsageService() UsageService {
	return usageService
}

func NewUsageService(grantInfoDAO dao.GrantInfoDAO) *UsageServiceImpl {
	return &UsageServiceImpl{grantInfoDAO: grantInfoDAO}
}

// usagePass describes one direction of the allocation loop.
type usagePass struct {
	op       string
	list     func(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error)
	capacity func(info *do.GrantInfo) int64
	apply    func(ctx context.Context, tx *gorm.DB, id uint64, amount int64) (int64, error)
}

// Consume applies amount to the user's rows that still have capacity, in
// insertion order.  When the amount cannot be fully applied the returned
// result still lists every row that was changed.
func (u *UsageServiceImpl) Consume(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string, amount int64) (*model.UsageResult, error) {
	return u.run(ctx, tx, &usagePass{
		op:   opConsume,
		list: u.grantInfoDAO.GetConsumable,
		capacity: func(info *do.GrantInfo) int64 {
			return info.GrantedAmount - info.UsedAmount
		},
		apply: u.grantInfoDAO.AddUsedAmount,
	}, airdropID, userAddress, amount)
}

// Refund returns amount to the user's rows that have something used, in
// insertion order.
func (u *UsageServiceImpl) Refund(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string, amount int64) (*model.UsageResult, error) {
	return u.run(ctx, tx, &usagePass{
		op:   opRefund,
		list: u.grantInfoDAO.GetRefundable,
		capacity: func(info *do.GrantInfo) int64 {
			return info.UsedAmount
		},
		apply: u.grantInfoDAO.SubUsedAmount,
	}, airdropID, userAddress, amount)
}

func (u *UsageServiceImpl) run(ctx context.Context, tx *gorm.DB, pass *usagePass, airdropID string, userAddress string, amount int64) (*model.UsageResult, error) {
	result := &model.UsageResult{
		AirdropID:   airdropID,
		UserAddress: userAddress,
		Requested:   amount,
		Adjustments: make([]model.Adjustment, 0),
	}

	if amount <= 0 {
		result.FullyApplied = true
		metrics.Ledger().ObserveUsage(pass.op, "noop", 0)
		return result, nil
	}

	err := checkAirdropID(pass.op, airdropID)
	if err != nil {
		metrics.Ledger().ObserveUsage(pass.op, "invalid", 0)
		return result, err
	}
	normalized, err := normalizeUser(pass.op, userAddress)
	if err != nil {
		metrics.Ledger().ObserveUsage(pass.op, "invalid", 0)
		return result, err
	}
	result.UserAddress = normalized

	rows, err := pass.list(ctx, tx, airdropID, normalized)
	if err != nil {
		log.Errorf("Unable to list grants of %v in airdrop %v: %v", normalized, airdropID, err)
		metrics.Ledger().ObserveUsage(pass.op, "persistence", 0)
		return result, errcode.Wrap(errcode.KindPersistence, pass.op, err, usageDetail(result))
	}

	if len(rows) == 0 {
		num, err := u.grantInfoDAO.GetNumByUser(ctx, tx, airdropID, normalized)
		if err != nil {
			log.Errorf("Unable to count grants of %v in airdrop %v: %v", normalized, airdropID, err)
			metrics.Ledger().ObserveUsage(pass.op, "persistence", 0)
			return result, errcode.Wrap(errcode.KindPersistence, pass.op, err, usageDetail(result))
		}
		if num == 0 {
			metrics.Ledger().ObserveUsage(pass.op, "no_grant", 0)
			return result, errcode.New(errcode.KindNoEligibleGrant, pass.op, usageDetail(result))
		}
	}

	remaining := amount
	for _, row := range rows {
		take := min(remaining, pass.capacity(row))
		if take <= 0 {
			break
		}

		affected, err := pass.apply(ctx, tx, row.ID, take)
		if err != nil {
			log.Errorf("Unable to %v %v on grant %v: %v", pass.op, take, row.ID, err)
			result.Applied = amount - remaining
			metrics.Ledger().ObserveUsage(pass.op, "persistence", result.Applied)
			return result, errcode.Wrap(errcode.KindPersistence, pass.op, err, usageDetail(result))
		}
		if affected == 0 {
			// The row changed since it was listed.  It is not retried.
			log.Debugf("Lost race on grant %v while trying to %v %v", row.ID, pass.op, take)
			metrics.Ledger().ObserveLostRace("grant_infos")
			continue
		}

		remaining -= take
		result.Adjustments = append(result.Adjustments, model.Adjustment{GrantID: row.ID, Amount: take})
	}

	result.Applied = amount - remaining
	result.FullyApplied = remaining == 0
	if !result.FullyApplied {
		log.Warnf("Only %v of %v applied to %v in airdrop %v (%v)", result.Applied, amount, normalized, airdropID, pass.op)
		metrics.Ledger().ObserveUsage(pass.op, "partial", result.Applied)
		return result, errcode.New(errcode.KindPartialFulfillment, pass.op, usageDetail(result))
	}

	log.Debugf("Applied %v %v to %v in airdrop %v over %v grants", pass.op, amount, normalized, airdropID,
		len(result.Adjustments))
	metrics.Ledger().ObserveUsage(pass.op, "ok", result.Applied)
	return result, nil
}

func usageDetail(result *model.UsageResult) map[string]interface{} {
	return map[string]interface{}{
		"airdrop_id": result.AirdropID,
		"user":       result.UserAddress,
		"requested":  result.Requested,
		"applied":    result.Applied,
	}
}

func (u *UsageServiceImpl) GetGrants(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*model.GrantDetails, error) {
	err := checkAirdropID("getGrants", airdropID)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeUser("getGrants", userAddress)
	if err != nil {
		return nil, err
	}

	infos, err := u.grantInfoDAO.GetByUser(ctx, tx, airdropID, normalized)
	if err != nil {
		log.Errorf("Unable to get grants of %v in airdrop %v: %v", normalized, airdropID, err)
		return nil, errcode.Wrap(errcode.KindPersistence, "getGrants", err, nil)
	}

	res := make([]*model.GrantDetails, 0, len(infos))
	for _, info := range infos {
		res = append(res, model.ConvertGrantInfoToDetails(info))
	}
	return res, nil
}

// GetAvailable returns the unused airdrop amount of the user, summed over all
// of their grant rows.
func (u *UsageServiceImpl) GetAvailable(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) (int64, error) {
	err := checkAirdropID("getAvailable", airdropID)
	if err != nil {
		return 0, err
	}
	normalized, err := normalizeUser("getAvailable", userAddress)
	if err != nil {
		return 0, err
	}

	available, err := u.grantInfoDAO.GetAvailableByUser(ctx, tx, airdropID, normalized)
	if err != nil {
		log.Errorf("Unable to get available amount of %v in airdrop %v: %v", normalized, airdropID, err)
		return 0, errcode.Wrap(errcode.KindPersistence, "getAvailable", err, nil)
	}
	return available, nil
}
