package main

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/abesuite/airdrop-ledger/dal"
	"github.com/abesuite/airdrop-ledger/utils"
)

var (
	cfg *config
)

func startProfileServer() {
	listenAddr := net.JoinHostPort("localhost", cfg.ProfilePort)
	ledgerLog.Infof("Profile server listening on %s", listenAddr)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	ledgerLog.Errorf("%v", http.ListenAndServe(listenAddr, mux))
}

func ledgerMain() error {
	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()
	defer utils.Recover()

	defer ledgerLog.Info("Shutdown complete")

	// Enable http profiling server if requested.
	if cfg.ProfilePort != "" {
		go func() {
			startProfileServer()
		}()
	}

	// initiate database
	err = dal.InitDB(dbConfig(), !cfg.DisableAutoCreateDB)
	if err != nil {
		return err
	}

	svr, err := newServer(dal.GlobalDBClient)
	if err != nil {
		ledgerLog.Errorf("Unable to start server: %v", err)
		return err
	}

	svr.Start()
	addInterruptHandler(func() {
		svr.Stop()
	})

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested by a failed listener.
	<-interruptHandlersDone
	return nil
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Batch allocations create bursts of short-lived rows.  This limits the
	// garbage collector from excessively overallocating during bursts.
	debug.SetGCPercent(10)

	if err := ledgerMain(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
