package service

import (
	"context"

	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/metrics"
	"github.com/abesuite/airdrop-ledger/model"
	"github.com/abesuite/airdrop-ledger/utils"

	"gorm.io/gorm"
)

// ProofService tracks how much of each funding transaction has been turned
// into grants.  ConditionallyIncreaseAllocated is the only way the allocated
// counter grows, and it never lets it pass the funded amount.
type ProofService interface {
	CreateProof(ctx context.Context, tx *gorm.DB, transactionHash string, fundedAmount int64) (*do.AllocationProofInfo, error)
	FindByTransactionHash(ctx context.Context, tx *gorm.DB, transactionHash string) (*do.AllocationProofInfo, error)
	GetProof(ctx context.Context, tx *gorm.DB, transactionHash string) (*model.ProofDetails, error)
	ConditionallyIncreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64, maxAllowed int64) (bool, error)
	DecreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64) (bool, error)
}

type ProofServiceImpl struct {
	allocationProofInfoDAO dao.AllocationProofInfoDAO
}

var proofService ProofService = &ProofServiceImpl{
	allocationProofInfoDAO: dao.GetAllocationProofInfoDAOImpl(),
}

func GetProofService() ProofService {
	return proofService
}

func NewProofService(allocationProofInfoDAO dao.AllocationProofInfoDAO) *ProofServiceImpl {
	return &ProofServiceImpl{allocationProofInfoDAO: allocationProofInfoDAO}
}

// CreateProof records a confirmed funding transaction.  Recording the same
// transaction again with the same amount returns the existing proof.
func (p *ProofServiceImpl) CreateProof(ctx context.Context, tx *gorm.DB, transactionHash string, fundedAmount int64) (*do.AllocationProofInfo, error) {
	const op = "createProof"

	hash, err := utils.NormalizeTransactionHash(transactionHash)
	if err != nil {
		return nil, errcode.Wrap(errcode.KindInvalidInput, op, err, map[string]interface{}{
			"transaction_hash": transactionHash,
		})
	}
	if fundedAmount <= 0 {
		return nil, errcode.New(errcode.KindInvalidInput, op, map[string]interface{}{
			"funded": fundedAmount,
		})
	}

	existing, err := p.allocationProofInfoDAO.GetByTransactionHash(ctx, tx, hash)
	if err != nil {
		log.Errorf("Unable to get allocation proof of %v: %v", hash, err)
		return nil, errcode.Wrap(errcode.KindPersistence, op, err, nil)
	}
	if existing != nil {
		if existing.FundedAmount != fundedAmount {
			return nil, errcode.New(errcode.KindInvalidInput, op, map[string]interface{}{
				"transaction_hash": hash,
				"funded":           fundedAmount,
				"recorded":         existing.FundedAmount,
			})
		}
		return existing, nil
	}

	info := &do.AllocationProofInfo{
		TransactionHash: hash,
		FundedAmount:    fundedAmount,
	}
	_, err = p.allocationProofInfoDAO.Create(ctx, tx, info)
	if err != nil {
		log.Errorf("Unable to create allocation proof of %v: %v", hash, err)
		return nil, errcode.Wrap(errcode.KindPersistence, op, err, map[string]interface{}{
			"transaction_hash": hash,
		})
	}
	log.Infof("Recorded funding transaction %v of %v", hash, fundedAmount)
	return info, nil
}

// FindByTransactionHash returns nil, nil when the transaction is unknown.
func (p *ProofServiceImpl) FindByTransactionHash(ctx context.Context, tx *gorm.DB, transactionHash string) (*do.AllocationProofInfo, error) {
	const op = "findByTransactionHash"

	hash, err := utils.NormalizeTransactionHash(transactionHash)
	if err != nil {
		return nil, errcode.Wrap(errcode.KindInvalidInput, op, err, map[string]interface{}{
			"transaction_hash": transactionHash,
		})
	}
	info, err := p.allocationProofInfoDAO.GetByTransactionHash(ctx, tx, hash)
	if err != nil {
		log.Errorf("Unable to get allocation proof of %v: %v", hash, err)
		return nil, errcode.Wrap(errcode.KindPersistence, op, err, nil)
	}
	return info, nil
}

func (p *ProofServiceImpl) GetProof(ctx context.Context, tx *gorm.DB, transactionHash string) (*model.ProofDetails, error) {
	info, err := p.FindByTransactionHash(ctx, tx, transactionHash)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errcode.New(errcode.KindUnknownFundingTransaction, "getProof", map[string]interface{}{
			"transaction_hash": transactionHash,
		})
	}
	return model.ConvertAllocationProofInfoToDetails(info), nil
}

// ConditionallyIncreaseAllocated adds delta to the allocated amount of the
// proof if the result stays within both the funded amount and maxAllowed.
// false means the guard failed at write time.
func (p *ProofServiceImpl) ConditionallyIncreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64, maxAllowed int64) (bool, error) {
	if delta <= 0 {
		return false, errcode.New(errcode.KindInvalidInput, "increaseAllocated", map[string]interface{}{
			"delta": delta,
		})
	}

	affected, err := p.allocationProofInfoDAO.IncreaseAllocated(ctx, tx, id, delta, maxAllowed)
	if err != nil {
		log.Errorf("Unable to increase allocated amount of proof %v by %v: %v", id, delta, err)
		return false, errcode.Wrap(errcode.KindPersistence, "increaseAllocated", err, nil)
	}
	if affected == 0 {
		metrics.Ledger().ObserveLostRace("allocation_proof_infos")
		return false, nil
	}
	return true, nil
}

// DecreaseAllocated takes delta back from the allocated amount.  It only
// serves as compensation for a failed insert and never drives the counter
// below zero.
func (p *ProofServiceImpl) DecreaseAllocated(ctx context.Context, tx *gorm.DB, id uint64, delta int64) (bool, error) {
	if delta <= 0 {
		return false, errcode.New(errcode.KindInvalidInput, "decreaseAllocated", map[string]interface{}{
			"delta": delta,
		})
	}

	affected, err := p.allocationProofInfoDAO.DecreaseAllocated(ctx, tx, id, delta)
	if err != nil {
		log.Errorf("Unable to decrease allocated amount of proof %v by %v: %v", id, delta, err)
		return false, errcode.Wrap(errcode.KindPersistence, "decreaseAllocated", err, nil)
	}
	return affected > 0, nil
}
