package dao

import (
	"context"
	"errors"

	"github.com/abesuite/airdrop-ledger/constdef"
	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"

	"gorm.io/gorm"
)

// GrantInfoDAO is the grant ledger store.  AddUsedAmount and SubUsedAmount
// are the conditional update primitives: the guard is evaluated by the
// database against the row as it is at write time, and a zero affected
// count means the guard failed.
type GrantInfoDAO interface {
	Create(ctx context.Context, tx *gorm.DB, info *do.GrantInfo) (int64, error)
	MCreate(ctx context.Context, tx *gorm.DB, infos []*do.GrantInfo) (int64, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uint64) (*do.GrantInfo, error)
	GetByUser(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error)
	GetConsumable(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error)
	GetRefundable(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error)
	GetNumByUser(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) (int64, error)
	GetAvailableByUser(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) (int64, error)
	AddUsedAmount(ctx context.Context, tx *gorm.DB, id uint64, amount int64) (int64, error)
	SubUsedAmount(ctx context.Context, tx *gorm.DB, id uint64, amount int64) (int64, error)
	GetViolationNum(ctx context.Context, tx *gorm.DB) (int64, error)
	GetTotals(ctx context.Context, tx *gorm.DB) (int64, int64, error)
}

type GrantInfoDAOImpl struct{}

var grantInfoDAO GrantInfoDAO = &GrantInfoDAOImpl{}

func GetGrantInfoDAOImpl() GrantInfoDAO {
	return grantInfoDAO
}

func (g *GrantInfoDAOImpl) Create(ctx context.Context, tx *gorm.DB, info *do.GrantInfo) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	if info == nil {
		return 0, errors.New("fail to create grant info: nil grant info")
	}

	query := tx.WithContext(ctx).Create(info)
	return query.RowsAffected, query.Error
}

func (g *GrantInfoDAOImpl) MCreate(ctx context.Context, tx *gorm.DB, infos []*do.GrantInfo) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	if infos == nil {
		return 0, errors.New("fail to multi create grant info: nil grant infos")
	}

	if len(infos) == 0 {
		return 0, nil
	}

	query := tx.WithContext(ctx).CreateInBatches(infos, constdef.InsertBatchSize)
	return query.RowsAffected, query.Error
}

func (g *GrantInfoDAOImpl) GetByID(ctx context.Context, tx *gorm.DB, id uint64) (*do.GrantInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := do.GrantInfo{}
	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).Where("id = ?", id).Take(&res)
	if query.Error != nil {
		if errors.Is(query.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, query.Error
	}
	return &res, nil
}

// GetByUser returns every grant row of the user in the airdrop, oldest first.
func (g *GrantInfoDAOImpl) GetByUser(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := make([]*do.GrantInfo, 0)
	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("airdrop_id = ? AND user_address = ?", airdropID, userAddress).
		Order("id asc").Find(&res)
	return res, query.Error
}

// GetConsumable returns the rows that still have unused capacity, in
// insertion order.
func (g *GrantInfoDAOImpl) GetConsumable(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := make([]*do.GrantInfo, 0)
	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("airdrop_id = ? AND user_address = ? AND granted_amount > used_amount", airdropID, userAddress).
		Order("id asc").Find(&res)
	return res, query.Error
}

// GetRefundable returns the rows that have something used, in insertion
// order.
func (g *GrantInfoDAOImpl) GetRefundable(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) ([]*do.GrantInfo, error) {
	if tx == nil {
		return nil, errcode.ErrNilGormDB
	}

	res := make([]*do.GrantInfo, 0)
	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("airdrop_id = ? AND user_address = ? AND used_amount > 0", airdropID, userAddress).
		Order("id asc").Find(&res)
	return res, query.Error
}

func (g *GrantInfoDAOImpl) GetNumByUser(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	var res int64
	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("airdrop_id = ? AND user_address = ?", airdropID, userAddress).Count(&res)
	return res, query.Error
}

func (g *GrantInfoDAOImpl) GetAvailableByUser(ctx context.Context, tx *gorm.DB, airdropID string, userAddress string) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	type SumStruct struct {
		SumValue int64
	}
	var result SumStruct
	err := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Select("COALESCE(SUM(granted_amount - used_amount), 0) AS sum_value").
		Where("airdrop_id = ? AND user_address = ?", airdropID, userAddress).
		Scan(&result).Error
	if err != nil {
		return 0, err
	}
	return result.SumValue, nil
}

// AddUsedAmount increases used_amount by amount only if the row still has
// room for it.
func (g *GrantInfoDAOImpl) AddUsedAmount(ctx context.Context, tx *gorm.DB, id uint64, amount int64) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("id = ? AND used_amount + ? <= granted_amount", id, amount).
		Update("used_amount", gorm.Expr("used_amount + ?", amount))
	return query.RowsAffected, query.Error
}

// SubUsedAmount decreases used_amount by amount only if it would not go
// negative.
func (g *GrantInfoDAOImpl) SubUsedAmount(ctx context.Context, tx *gorm.DB, id uint64, amount int64) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("id = ? AND used_amount >= ?", id, amount).
		Update("used_amount", gorm.Expr("used_amount - ?", amount))
	return query.RowsAffected, query.Error
}

// GetViolationNum counts rows breaking 0 <= used_amount <= granted_amount.
func (g *GrantInfoDAOImpl) GetViolationNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	if tx == nil {
		return 0, errcode.ErrNilGormDB
	}

	var res int64
	query := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Where("used_amount < 0 OR used_amount > granted_amount").Count(&res)
	return res, query.Error
}

// GetTotals returns the total granted and total used amount over all rows.
func (g *GrantInfoDAOImpl) GetTotals(ctx context.Context, tx *gorm.DB) (int64, int64, error) {
	if tx == nil {
		return 0, 0, errcode.ErrNilGormDB
	}

	type TotalStruct struct {
		TotalGranted int64
		TotalUsed    int64
	}
	var result TotalStruct
	err := tx.WithContext(ctx).Model(&do.GrantInfo{}).
		Select("COALESCE(SUM(granted_amount), 0) AS total_granted, COALESCE(SUM(used_amount), 0) AS total_used").
		Scan(&result).Error
	if err != nil {
		return 0, 0, err
	}
	return result.TotalGranted, result.TotalUsed, nil
}
