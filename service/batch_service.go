package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/constdef"
	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/dal/do"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/metrics"
	"github.com/abesuite/airdrop-ledger/model"
	"github.com/abesuite/airdrop-ledger/utils"

	"gorm.io/gorm"
)

const opAllocateBatch = "allocateBatch"

// BatchService turns the proceeds of a funding transaction into grant rows.
//
// The allocated counter of the proof is raised before the rows are inserted.
// If the insert fails the counter is lowered again by a separate write, so
// between the two writes the proof may briefly count an allocation that has
// no rows.
type BatchService interface {
	AllocateBatch(ctx context.Context, tx *gorm.DB, req *model.BatchRequest) (*model.BatchResult, error)
}

type BatchServiceImpl struct {
	cfg          *model.LedgerConfig
	proofService ProofService
	grantInfoDAO dao.GrantInfoDAO
	invalidator  balancecache.Invalidator
}

// NewBatchService builds a BatchService.  invalidator may be nil when no
// balance cache is in use.
func NewBatchService(cfg *model.LedgerConfig, proofService ProofService, grantInfoDAO dao.GrantInfoDAO,
	invalidator balancecache.Invalidator) *BatchServiceImpl {

	return &BatchServiceImpl{
		cfg:          cfg,
		proofService: proofService,
		grantInfoDAO: grantInfoDAO,
		invalidator:  invalidator,
	}
}

type normalizedGrant struct {
	userAddress string
	grant       model.UserGrant
}

func (b *BatchServiceImpl) maxBatchSize() int {
	if b.cfg == nil || b.cfg.MaxBatchSize <= 0 {
		return constdef.DefaultMaxBatchSize
	}
	return b.cfg.MaxBatchSize
}

// validate checks the request without touching the store and returns the
// grants sorted by normalized address together with their sum.
func (b *BatchServiceImpl) validate(req *model.BatchRequest) (string, []normalizedGrant, int64, error) {
	if req == nil || len(req.Grants) == 0 {
		return "", nil, 0, errcode.New(errcode.KindInvalidInput, opAllocateBatch, map[string]interface{}{
			"size": 0,
		})
	}
	if len(req.Grants) > b.maxBatchSize() {
		return "", nil, 0, errcode.New(errcode.KindBatchTooLarge, opAllocateBatch, map[string]interface{}{
			"size": len(req.Grants),
			"max":  b.maxBatchSize(),
		})
	}

	err := checkAirdropID(opAllocateBatch, req.AirdropID)
	if err != nil {
		return "", nil, 0, err
	}
	hash, err := utils.NormalizeTransactionHash(req.TransactionHash)
	if err != nil {
		return "", nil, 0, errcode.Wrap(errcode.KindInvalidInput, opAllocateBatch, err, map[string]interface{}{
			"transaction_hash": req.TransactionHash,
		})
	}

	grants := make([]normalizedGrant, 0, len(req.Grants))
	seen := make(map[string]struct{}, len(req.Grants))
	var total int64
	for addr, grant := range req.Grants {
		normalized, err := normalizeUser(opAllocateBatch, addr)
		if err != nil {
			return "", nil, 0, err
		}
		if _, ok := seen[normalized]; ok {
			return "", nil, 0, errcode.New(errcode.KindInvalidInput, opAllocateBatch, map[string]interface{}{
				"duplicate_user": normalized,
			})
		}
		seen[normalized] = struct{}{}

		if grant.Amount <= 0 {
			return "", nil, 0, errcode.New(errcode.KindInvalidInput, opAllocateBatch, map[string]interface{}{
				"user":   normalized,
				"amount": grant.Amount,
			})
		}
		if total > math.MaxInt64-grant.Amount {
			return "", nil, 0, errcode.New(errcode.KindInvalidInput, opAllocateBatch, map[string]interface{}{
				"overflow_at": normalized,
			})
		}
		total += grant.Amount
		grants = append(grants, normalizedGrant{userAddress: normalized, grant: grant})
	}

	sort.Slice(grants, func(i, j int) bool {
		return grants[i].userAddress < grants[j].userAddress
	})
	return hash, grants, total, nil
}

func (b *BatchServiceImpl) AllocateBatch(ctx context.Context, tx *gorm.DB, req *model.BatchRequest) (*model.BatchResult, error) {
	hash, grants, total, err := b.validate(req)
	if err != nil {
		metrics.Ledger().ObserveBatch(errcode.KindOf(err).String(), 0)
		return nil, err
	}
	if tx == nil {
		return nil, errcode.Wrap(errcode.KindPersistence, opAllocateBatch, errcode.ErrNilGormDB, nil)
	}

	proof, err := b.proofService.FindByTransactionHash(ctx, tx, hash)
	if err != nil {
		metrics.Ledger().ObserveBatch(errcode.KindOf(err).String(), 0)
		return nil, err
	}
	if proof == nil {
		metrics.Ledger().ObserveBatch(errcode.KindUnknownFundingTransaction.String(), 0)
		return nil, errcode.New(errcode.KindUnknownFundingTransaction, opAllocateBatch, map[string]interface{}{
			"transaction_hash": hash,
		})
	}

	ceilingDetail := map[string]interface{}{
		"allocated": proof.AllocatedAmount,
		"funded":    proof.FundedAmount,
		"requested": total,
	}
	if total > proof.Remaining() {
		metrics.Ledger().ObserveBatch(errcode.KindFundingCeilingExceeded.String(), 0)
		return nil, errcode.New(errcode.KindFundingCeilingExceeded, opAllocateBatch, ceilingDetail)
	}

	ok, err := b.proofService.ConditionallyIncreaseAllocated(ctx, tx, proof.ID, total, proof.FundedAmount)
	if err != nil {
		metrics.Ledger().ObserveBatch(errcode.KindOf(err).String(), 0)
		return nil, err
	}
	if !ok {
		// A concurrent batch took the capacity after the pre-check.
		log.Warnf("Allocation of %v against %v lost to a concurrent batch", total, hash)
		metrics.Ledger().ObserveBatch(errcode.KindFundingCeilingExceeded.String(), 0)
		return nil, errcode.New(errcode.KindFundingCeilingExceeded, opAllocateBatch, ceilingDetail)
	}

	infos := make([]*do.GrantInfo, 0, len(grants))
	for _, g := range grants {
		infos = append(infos, model.ConvertUserGrantToDO(req.AirdropID, g.userAddress, proof.ID, g.grant))
	}

	var inserted int64
	err = tx.WithContext(ctx).Transaction(func(itx *gorm.DB) error {
		num, err := b.grantInfoDAO.MCreate(ctx, itx, infos)
		if err != nil {
			return err
		}
		if num != int64(len(infos)) {
			return fmt.Errorf("inserted %d grant rows, expected %d", num, len(infos))
		}
		inserted = num
		return nil
	})
	if err != nil {
		log.Errorf("Unable to insert %v grants for %v: %v", len(infos), hash, err)
		compensated, cerr := b.proofService.DecreaseAllocated(ctx, tx, proof.ID, total)
		metrics.Ledger().ObserveCompensation("allocation_proof_infos", compensated)
		if cerr != nil || !compensated {
			log.Criticalf("Compensation of %v on proof %v (%v) failed: %v", total, proof.ID, hash, cerr)
		} else {
			log.Infof("Compensated %v on proof %v (%v)", total, proof.ID, hash)
		}
		metrics.Ledger().ObserveBatch(errcode.KindPersistence.String(), 0)
		return nil, errcode.Wrap(errcode.KindPersistence, opAllocateBatch, err, map[string]interface{}{
			"transaction_hash": hash,
			"requested":        total,
			"compensated":      compensated,
		})
	}

	log.Infof("Allocated %v to %v users in airdrop %v from %v", total, inserted, req.AirdropID, hash)
	metrics.Ledger().ObserveBatch("ok", total)

	b.invalidateUsers(ctx, grants)

	return &model.BatchResult{
		ProofID:         proof.ID,
		InsertedCount:   inserted,
		TotalAmount:     total,
		AllocatedAmount: proof.AllocatedAmount + total,
	}, nil
}

func (b *BatchServiceImpl) invalidateUsers(ctx context.Context, grants []normalizedGrant) {
	if b.invalidator == nil || b.cfg == nil {
		return
	}
	for _, g := range grants {
		key := balancecache.Key{Chain: b.cfg.Chain, Token: b.cfg.AirdropToken, Owner: g.userAddress}
		err := b.invalidator.Invalidate(ctx, key)
		if err != nil {
			log.Warnf("Unable to invalidate cached balance %v: %v", key, err)
			metrics.Ledger().ObserveCacheWriteFailure("invalidate")
		}
	}
}
