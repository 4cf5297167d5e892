package dao

import (
	"context"
	"errors"

	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"

	"gorm.io/gorm"
)

type AllocationProofInfoDAO interface {
	Create(ctx context.Context, tx *gorm.DB, info *do.AllocationProofInfo) (int64, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uint64) (*do.AllocationProofInfo, error)
	GetByTransactionHash(ctx context.Context, tx *gorm.DB, transactionHash string) (*do.AllocationProofInfo, error)
	IncreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64, ceiling int64) (int64, error)
	DecreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64) (int64, error)
	GetViolationNum(ctx context.Context, tx *gorm.DB) (int64, error)
	GetTotals(ctx context.Context, tx *gorm.DB) (int64, int64, error)
}

type AllocationProofInfoDAOImpl struct{}

var allocationProofInfoDAO AllocationProofInfoDAO = &AllocationProofInfoDAOImpl{}

func GetAllocationProofInfoDAOImpl() AllocationProofInfoDAO {
	return allocationProofInfoDAO
}

func (a *AllocationProofInfoDAOImpl) Create(ctx context.Context, tx *gorm.DB, info *do.AllocationProofInfo) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	if info == nil {
		return 0, errors.New("fail to create allocation proof info: nil proof info")
	}

	query := tx.WithContext(ctx).Create(info)
	return query.RowsAffected, query.Error
}

func (a *AllocationProofInfoDAOImpl) GetByID(ctx context.Context, tx *gorm.DB, id uint64) (*do.AllocationProofInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := do.AllocationProofInfo{}
	query := tx.WithContext(ctx).Model(&do.AllocationProofInfo{}).Where("id = ?", id).Take(&res)
	if query.Error != nil {
		if errors.Is(query.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, query.Error
	}
	return &res, nil
}

// GetByTransactionHash returns nil, nil when no proof was recorded for the
// hash.
func (a *AllocationProofInfoDAOImpl) GetByTransactionHash(ctx context.Context, tx *gorm.DB, transactionHash string) (*do.AllocationProofInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := do.AllocationProofInfo{}
	query := tx.WithContext(ctx).Model(&do.AllocationProofInfo{}).
		Where("transaction_hash = ?", transactionHash).Take(&res)
	if query.Error != nil {
		if errors.Is(query.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, query.Error
	}
	return &res, nil
}

// IncreaseAllocated adds delta to allocated_amount only if the result stays
// within both funded_amount and ceiling.
func (a *AllocationProofInfoDAOImpl) IncreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64, ceiling int64) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.WithContext(ctx).Model(&do.AllocationProofInfo{}).
		Where("id = ? AND allocated_amount + ? <= funded_amount AND allocated_amount + ? <= ?", id, delta, delta, ceiling).
		Update("allocated_amount", gorm.Expr("allocated_amount + ?", delta))
	return query.RowsAffected, query.Error
}

func (a *AllocationProofInfoDAOImpl) DecreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.WithContext(ctx).Model(&do.AllocationProofInfo{}).
		Where("id = ? AND allocated_amount >= ?", id, delta).
		Update("allocated_amount", gorm.Expr("allocated_amount - ?", delta))
	return query.RowsAffected, query.Error
}

// GetViolationNum counts proofs breaking 0 <= allocated_amount <= funded_amount.
func (a *AllocationProofInfoDAOImpl) GetViolationNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	var res int64
	query := tx.WithContext(ctx).Model(&do.AllocationProofInfo{}).
		Where("allocated_amount < 0 OR allocated_amount > funded_amount").Count(&res)
	return res, query.Error
}

// GetTotals returns the total funded and total allocated amount.
func (a *AllocationProofInfoDAOImpl) GetTotals(ctx context.Context, tx *gorm.DB) (int64, int64, error) {
	if tx == nil {
		return 0, 0, errcode.ErrNilGormDB
	}

	type TotalStruct struct {
		TotalFunded    int64
		TotalAllocated int64
	}
	var result TotalStruct
	err := tx.WithContext(ctx).Model(&do.AllocationProofInfo{}).
		Select("COALESCE(SUM(funded_amount), 0) AS total_funded, COALESCE(SUM(allocated_amount), 0) AS total_allocated").
		Scan(&result).Error
	if err != nil {
		return 0, 0, err
	}
	return result.TotalFunded, result.TotalAllocated, nil
}
