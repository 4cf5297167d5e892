package auditmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abesuite/airdrop-ledger/dal/dao"
	"github.com/abesuite/airdrop-ledger/metrics"
	"github.com/abesuite/airdrop-ledger/model"

	"gorm.io/gorm"
)

// AuditManager periodically checks the stored ledger against its bounds and
// exports the totals.  It only reads.
type AuditManager struct {
	db                     *gorm.DB
	interval               time.Duration
	grantInfoDAO           dao.GrantInfoDAO
	allocationProofInfoDAO dao.AllocationProofInfoDAO

	running    atomic.Bool
	reportMtx  sync.Mutex
	lastReport *model.AuditReport

	wg       sync.WaitGroup
	shutdown int32
	quit     chan struct{}
}

func NewAuditManager(db *gorm.DB, interval time.Duration) *AuditManager {
	return &AuditManager{
		db:                     db,
		interval:               interval,
		grantInfoDAO:           dao.GetGrantInfoDAOImpl(),
		allocationProofInfoDAO: dao.GetAllocationProofInfoDAOImpl(),
		quit:                   make(chan struct{}),
	}
}

// RunOnce performs one audit pass.  A pass that starts while another one is
// running returns the previous report.
func (m *AuditManager) RunOnce(ctx context.Context) (*model.AuditReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		log.Debugf("Audit already running, skip")
		return m.LastReport(), nil
	}
	defer m.running.Store(false)

	report := &model.AuditReport{CheckedAt: time.Now().Unix()}
	var err error

	report.GrantViolations, err = m.grantInfoDAO.GetViolationNum(ctx, m.db)
	if err != nil {
		log.Errorf("Unable to count grant violations: %v", err)
		return nil, err
	}
	report.ProofViolations, err = m.allocationProofInfoDAO.GetViolationNum(ctx, m.db)
	if err != nil {
		log.Errorf("Unable to count allocation proof violations: %v", err)
		return nil, err
	}
	report.TotalGranted, report.TotalUsed, err = m.grantInfoDAO.GetTotals(ctx, m.db)
	if err != nil {
		log.Errorf("Unable to sum grants: %v", err)
		return nil, err
	}
	report.TotalFunded, report.TotalAllocated, err = m.allocationProofInfoDAO.GetTotals(ctx, m.db)
	if err != nil {
		log.Errorf("Unable to sum allocation proofs: %v", err)
		return nil, err
	}

	ledgerMetrics := metrics.Ledger()
	ledgerMetrics.SetAuditViolations("grant_infos", report.GrantViolations)
	ledgerMetrics.SetAuditViolations("allocation_proof_infos", report.ProofViolations)
	ledgerMetrics.SetAuditTotal("granted", report.TotalGranted)
	ledgerMetrics.SetAuditTotal("used", report.TotalUsed)
	ledgerMetrics.SetAuditTotal("funded", report.TotalFunded)
	ledgerMetrics.SetAuditTotal("allocated", report.TotalAllocated)

	if report.Healthy() {
		log.Infof("Ledger audit ok: granted %v, used %v, funded %v, allocated %v", report.TotalGranted,
			report.TotalUsed, report.TotalFunded, report.TotalAllocated)
	} else {
		log.Criticalf("Ledger audit found violations: %d grant rows, %d proofs, allocated %v of funded %v",
			report.GrantViolations, report.ProofViolations, report.TotalAllocated, report.TotalFunded)
	}

	m.reportMtx.Lock()
	m.lastReport = report
	m.reportMtx.Unlock()
	return report, nil
}

func (m *AuditManager) LastReport() *model.AuditReport {
	m.reportMtx.Lock()
	defer m.reportMtx.Unlock()
	return m.lastReport
}

func (m *AuditManager) auditHandler() {
	log.Infof("auditHandler working")
	defer m.wg.Done()

	timer := time.NewTicker(m.interval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			_, _ = m.RunOnce(context.Background())
		case <-m.quit:
			return
		}
	}
}

func (m *AuditManager) Start() {
	if m.interval <= 0 {
		log.Infof("Ledger audit disabled")
		return
	}
	m.wg.Add(1)
	go m.auditHandler()
}

func (m *AuditManager) Stop() error {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		log.Infof("Audit manager is already in the process of shutting down")
		return nil
	}
	log.Warnf("Audit manager shutting down...")
	close(m.quit)
	m.wg.Wait()
	log.Infof("Audit manager shutdown complete")
	return nil
}
