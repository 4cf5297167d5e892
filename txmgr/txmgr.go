package txmgr

import (
	"context"
	"errors"

	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/errcode"
	"github.com/abesuite/airdrop-ledger/metrics"
	"github.com/abesuite/airdrop-ledger/model"
	"github.com/abesuite/airdrop-ledger/service"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	phaseBefore       = "before"
	phaseAfterSuccess = "afterSuccess"
	phaseAfterFailure = "afterFailure"
)

// BalanceAdjuster is the part of the balance cache the manager writes to.
type BalanceAdjuster interface {
	Adjust(ctx context.Context, key balancecache.Key, delta int64) (int64, error)
	Invalidate(ctx context.Context, key balancecache.Key) error
}

// TxManager keeps the balance cache and the grant ledger in step with pay
// operations that run outside of this process.  Before is called ahead of
// the pay call and exactly one of AfterSuccess, AfterSuccessWithActuals or
// AfterFailure after it.
//
// Cache writes are best effort: a failed write is logged and recorded in the
// returned status, and the entry heals on its next read-through.  Only ledger
// failures are returned as errors.
type TxManager struct {
	db       *gorm.DB
	usage    service.UsageService
	balances BalanceAdjuster
	decoder  ResultDecoder
}

func NewTxManager(db *gorm.DB, usage service.UsageService, balances BalanceAdjuster, decoder ResultDecoder) *TxManager {
	return &TxManager{
		db:       db,
		usage:    usage,
		balances: balances,
		decoder:  decoder,
	}
}

func invalidOperation(phase string, detail map[string]interface{}) error {
	return errcode.New(errcode.KindInvalidInput, phase, detail)
}

func (m *TxManager) validate(phase string, op *model.PayOperation) error {
	if op == nil {
		return invalidOperation(phase, map[string]interface{}{"op": nil})
	}
	if op.EstimatedAirdrop < 0 || op.EstimatedTotal < op.EstimatedAirdrop {
		return invalidOperation(phase, map[string]interface{}{
			"estimated_total":   op.EstimatedTotal,
			"estimated_airdrop": op.EstimatedAirdrop,
		})
	}
	for name, addr := range map[string]string{"spender": op.Spender, "budget_holder": op.BudgetHolder} {
		if _, err := balancecache.NewKey(op.Chain, op.Token, addr); err != nil {
			return errcode.Wrap(errcode.KindInvalidInput, phase, err, map[string]interface{}{name: addr})
		}
	}
	if _, err := balancecache.NewKey(op.Chain, op.AirdropToken, op.Spender); err != nil {
		return errcode.Wrap(errcode.KindInvalidInput, phase, err, map[string]interface{}{"airdrop_token": op.AirdropToken})
	}
	return nil
}

// key builds a cache key for owner.  A malformed owner is recorded as a cache
// failure and reported through ok.
func (m *TxManager) key(status *model.ReconcileStatus, chain string, token string, owner string) (balancecache.Key, bool) {
	key, err := balancecache.NewKey(chain, token, owner)
	if err != nil {
		m.recordCacheFailure(status, balancecache.Key{Chain: chain, Token: token, Owner: owner}, "key", err)
		return balancecache.Key{}, false
	}
	return key, true
}

func (m *TxManager) adjust(ctx context.Context, status *model.ReconcileStatus, chain string, token string, owner string, delta int64) {
	if delta == 0 || owner == "" {
		return
	}
	key, ok := m.key(status, chain, token, owner)
	if !ok {
		return
	}
	_, err := m.balances.Adjust(ctx, key, delta)
	if err != nil {
		m.recordCacheFailure(status, key, "adjust", err)
	}
}

func (m *TxManager) invalidate(ctx context.Context, status *model.ReconcileStatus, chain string, token string, owner string) {
	if owner == "" {
		return
	}
	key, ok := m.key(status, chain, token, owner)
	if !ok {
		return
	}
	err := m.balances.Invalidate(ctx, key)
	if err != nil {
		m.recordCacheFailure(status, key, "invalidate", err)
	}
}

func (m *TxManager) recordCacheFailure(status *model.ReconcileStatus, key balancecache.Key, action string, err error) {
	log.Warnf("Operation %v: unable to %v cached balance %v: %v", status.OperationID, action, key, err)
	metrics.Ledger().ObserveCacheWriteFailure(action)
	status.CacheFailures = append(status.CacheFailures, model.CacheFailure{
		Key:    key.String(),
		Action: action,
		Reason: err.Error(),
	})
}

func newStatus(op *model.PayOperation) *model.ReconcileStatus {
	return &model.ReconcileStatus{
		OperationID:   op.ID,
		CacheFailures: make([]model.CacheFailure, 0),
	}
}

// Before reserves the estimated amounts: the spender's cached balance is
// debited by the part it pays itself, the airdrop part is consumed from the
// spender's grants and debited from the budget holder's cached balance.
//
// If the airdrop part cannot be consumed in full, whatever was applied is
// refunded, the spender's cache is credited back and the ledger error is
// returned without a reservation.
//
// op is not modified.  The reservation carries its own copy, with a generated
// ID when op.ID is empty.
func (m *TxManager) Before(ctx context.Context, op *model.PayOperation) (*model.Reservation, error) {
	err := m.validate(phaseBefore, op)
	if err != nil {
		metrics.Ledger().ObserveReconciliation(phaseBefore, "invalid")
		return nil, err
	}
	reserved := *op
	op = &reserved
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	status := newStatus(op)
	userPortion := op.EstimatedUserPortion()

	m.adjust(ctx, status, op.Chain, op.Token, op.Spender, -userPortion)

	usage, err := m.usage.Consume(ctx, m.db, op.AirdropID, op.Spender, op.EstimatedAirdrop)
	status.Usage = usage
	if err != nil {
		log.Warnf("Operation %v: unable to consume %v airdrop for %v: %v", op.ID, op.EstimatedAirdrop,
			op.Spender, err)
		m.unwindBefore(ctx, op, status, usage)
		metrics.Ledger().ObserveReconciliation(phaseBefore, errcode.KindOf(err).String())
		return nil, err
	}

	consumed := usage.Applied
	m.adjust(ctx, status, op.Chain, op.Token, op.BudgetHolder, -consumed)
	if consumed > 0 {
		m.invalidate(ctx, status, op.Chain, op.AirdropToken, op.Spender)
	}

	log.Debugf("Operation %v: reserved %v own and %v airdrop for %v", op.ID, userPortion, consumed, op.Spender)
	metrics.Ledger().ObserveReconciliation(phaseBefore, "ok")
	return &model.Reservation{
		Op:              op,
		ConsumedAirdrop: consumed,
		Usage:           usage,
		Status:          status,
	}, nil
}

func (m *TxManager) unwindBefore(ctx context.Context, op *model.PayOperation, status *model.ReconcileStatus, usage *model.UsageResult) {
	if usage != nil && usage.Applied > 0 {
		refund, err := m.usage.Refund(ctx, m.db, op.AirdropID, op.Spender, usage.Applied)
		if err != nil {
			var refunded int64
			if refund != nil {
				refunded = refund.Applied
			}
			log.Criticalf("Operation %v: unable to refund %v partially consumed airdrop of %v (refunded %v): %v",
				op.ID, usage.Applied, op.Spender, refunded, err)
		}
		m.invalidate(ctx, status, op.Chain, op.AirdropToken, op.Spender)
	}
	m.adjust(ctx, status, op.Chain, op.Token, op.Spender, op.EstimatedUserPortion())
}

func (m *TxManager) checkReservation(phase string, res *model.Reservation) error {
	if res == nil || res.Op == nil {
		return invalidOperation(phase, map[string]interface{}{"reservation": nil})
	}
	return nil
}

// AfterSuccess decodes raw and reconciles against the decoded amounts.  When
// the result cannot be decoded every touched cache entry is invalidated and
// the ledger is left as Before committed it.
func (m *TxManager) AfterSuccess(ctx context.Context, res *model.Reservation, raw []byte) (*model.ReconcileStatus, error) {
	err := m.checkReservation(phaseAfterSuccess, res)
	if err != nil {
		return nil, err
	}

	var actuals *model.PayActuals
	if m.decoder != nil {
		actuals, err = m.decoder.DecodePayResult(ctx, raw)
	} else {
		err = ErrUndecodable
	}
	if err == nil && actuals == nil {
		err = ErrUndecodable
	}
	if err != nil {
		if !errors.Is(err, ErrUndecodable) {
			log.Errorf("Operation %v: decoder failed: %v", res.Op.ID, err)
		}
		return m.invalidateTouched(ctx, res), nil
	}

	return m.AfterSuccessWithActuals(ctx, res, actuals)
}

func (m *TxManager) invalidateTouched(ctx context.Context, res *model.Reservation) *model.ReconcileStatus {
	op := res.Op
	status := newStatus(op)
	log.Warnf("Operation %v: pay result undecodable, invalidating cached balances", op.ID)

	m.invalidate(ctx, status, op.Chain, op.Token, op.Spender)
	m.invalidate(ctx, status, op.Chain, op.Token, op.BudgetHolder)
	m.invalidate(ctx, status, op.Chain, op.Token, op.Beneficiary)
	m.invalidate(ctx, status, op.Chain, op.Token, op.CommissionBeneficiary)
	m.invalidate(ctx, status, op.Chain, op.AirdropToken, op.Spender)

	metrics.Ledger().ObserveReconciliation(phaseAfterSuccess, "undecodable")
	return status
}

// AfterSuccessWithActuals credits the receivers, settles the spender and the
// budget holder against their reservations and moves the ledger by the
// difference between the actual and the consumed airdrop amount.
func (m *TxManager) AfterSuccessWithActuals(ctx context.Context, res *model.Reservation, actuals *model.PayActuals) (*model.ReconcileStatus, error) {
	err := m.checkReservation(phaseAfterSuccess, res)
	if err != nil {
		return nil, err
	}
	if actuals == nil || actuals.BeneficiaryAmount < 0 || actuals.CommissionAmount < 0 || actuals.AirdropAmount < 0 {
		return nil, invalidOperation(phaseAfterSuccess, map[string]interface{}{"actuals": actuals})
	}

	op := res.Op
	status := newStatus(op)
	status.Decoded = true

	m.adjust(ctx, status, op.Chain, op.Token, op.Beneficiary, actuals.BeneficiaryAmount)
	m.adjust(ctx, status, op.Chain, op.Token, op.CommissionBeneficiary, actuals.CommissionAmount)
	m.adjust(ctx, status, op.Chain, op.Token, op.Spender, op.EstimatedUserPortion()-actuals.UserPortion())
	m.adjust(ctx, status, op.Chain, op.Token, op.BudgetHolder, res.ConsumedAirdrop-actuals.AirdropAmount)

	delta := actuals.AirdropAmount - res.ConsumedAirdrop
	if delta != 0 {
		var usage *model.UsageResult
		if delta < 0 {
			usage, err = m.usage.Refund(ctx, m.db, op.AirdropID, op.Spender, -delta)
		} else {
			usage, err = m.usage.Consume(ctx, m.db, op.AirdropID, op.Spender, delta)
		}
		status.Usage = usage
		m.invalidate(ctx, status, op.Chain, op.AirdropToken, op.Spender)
		if err != nil {
			log.Errorf("Operation %v: unable to settle airdrop delta %v for %v: %v", op.ID, delta, op.Spender, err)
			metrics.Ledger().ObserveReconciliation(phaseAfterSuccess, errcode.KindOf(err).String())
			return status, err
		}
	}

	log.Debugf("Operation %v: settled, airdrop %v (reserved %v)", op.ID, actuals.AirdropAmount, res.ConsumedAirdrop)
	metrics.Ledger().ObserveReconciliation(phaseAfterSuccess, "ok")
	return status, nil
}

// AfterFailure reverses everything Before applied.
func (m *TxManager) AfterFailure(ctx context.Context, res *model.Reservation) (*model.ReconcileStatus, error) {
	err := m.checkReservation(phaseAfterFailure, res)
	if err != nil {
		return nil, err
	}

	op := res.Op
	status := newStatus(op)

	m.adjust(ctx, status, op.Chain, op.Token, op.Spender, op.EstimatedUserPortion())
	m.adjust(ctx, status, op.Chain, op.Token, op.BudgetHolder, res.ConsumedAirdrop)

	if res.ConsumedAirdrop > 0 {
		usage, err := m.usage.Refund(ctx, m.db, op.AirdropID, op.Spender, res.ConsumedAirdrop)
		status.Usage = usage
		m.invalidate(ctx, status, op.Chain, op.AirdropToken, op.Spender)
		if err != nil {
			log.Errorf("Operation %v: unable to refund %v airdrop for %v: %v", op.ID, res.ConsumedAirdrop, op.Spender, err)
			metrics.Ledger().ObserveReconciliation(phaseAfterFailure, errcode.KindOf(err).String())
			return status, err
		}
	}

	log.Debugf("Operation %v: reverted", op.ID)
	metrics.Ledger().ObserveReconciliation(phaseAfterFailure, "ok")
	return status, nil
}
