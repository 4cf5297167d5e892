package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abesuite/airdrop-ledger/auditmgr"
	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/dal"
	"github.com/abesuite/airdrop-ledger/model"
	"github.com/abesuite/airdrop-ledger/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const httpShutdownTimeout = 5 * time.Second

// server runs the ledger audit loop and the read-only HTTP listener over the
// balance cache.
type server struct {
	ledgerCfg    *model.LedgerConfig
	balances     *balancecache.Reader
	auditManager *auditmgr.AuditManager
	httpServer   *http.Server

	wg       sync.WaitGroup
	started  int32
	shutdown int32
}

func newServer(db *gorm.DB) (*server, error) {
	ledgerCfg := &model.LedgerConfig{
		Chain:        cfg.Chain,
		AirdropToken: cfg.AirdropToken,
		MaxBatchSize: cfg.MaxBatchSize,
	}

	cache, err := balancecache.New(cfg.CacheType, cfg.CacheSize, cfg.CacheMaxBytes)
	if err != nil {
		return nil, err
	}

	usageService := service.GetUsageService()
	authority := balancecache.NewAuthorityMux(nil)
	authority.Handle(cfg.AirdropToken,
		service.NewLedgerBalanceAuthority(db, cfg.AirdropID, cfg.AirdropToken, usageService))
	balances := balancecache.NewReader(cache, authority, cfg.AuthorityRPS, cfg.AuthorityBurst)

	s := &server{
		ledgerCfg:    ledgerCfg,
		balances:     balances,
		auditManager: auditmgr.NewAuditManager(db, cfg.AuditInterval),
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/audit", s.handleAudit)
		mux.HandleFunc("/balance", s.handleBalance)
		s.httpServer = &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	ledgerLog.Infof("Ledger ready: chain %v, airdrop %v (token %v), %v balance cache, max batch size %v",
		ledgerCfg.Chain, cfg.AirdropID, ledgerCfg.AirdropToken, cfg.CacheType, ledgerCfg.MaxBatchSize)
	return s, nil
}

func (s *server) Start() {
	// Already started?
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	s.auditManager.Start()

	if s.httpServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ledgerLog.Infof("HTTP listener serving metrics on %v", s.httpServer.Addr)
			err := s.httpServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				ledgerLog.Errorf("HTTP listener failed: %v", err)
				requestShutdown()
			}
		}()
	}
}

func (s *server) Stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		ledgerLog.Infof("Server is already in the process of shutting down")
		return
	}

	ledgerLog.Infof("Server shutting down")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			ledgerLog.Warnf("HTTP listener shutdown: %v", err)
		}
		cancel()
	}

	if err := s.auditManager.Stop(); err != nil {
		ledgerLog.Warnf("Audit manager shutdown: %v", err)
	}

	s.wg.Wait()
	ledgerLog.Infof("Server shutdown complete")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ledgerLog.Debugf("Unable to write response: %v", err)
	}
}

// handleAudit serves the last audit report, running one pass when none
// exists yet.
func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report := s.auditManager.LastReport()
	if report == nil {
		var err error
		report, err = s.auditManager.RunOnce(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, report)
}

// handleBalance serves a cached airdrop balance, reading through to the
// ledger on a miss.
func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	key, err := balancecache.NewKey(s.ledgerCfg.Chain, s.ledgerCfg.AirdropToken, r.URL.Query().Get("owner"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	balance, err := s.balances.Balance(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":   key.Owner,
		"token":   key.Token,
		"balance": balance,
	})
}

// dbConfig maps the database options onto the dal config.
func dbConfig() *dal.DBConfig {
	return &dal.DBConfig{
		Type:         cfg.DbType,
		Username:     cfg.DbUsername,
		Password:     cfg.DbPassword,
		Address:      cfg.DbAddress,
		DatabaseName: cfg.DbName,
	}
}
