// Copyright (c) 2021 The Abelian Foundation
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abesuite/airdrop-ledger/auditmgr"
	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/dal"
	"github.com/abesuite/airdrop-ledger/service"
	"github.com/abesuite/airdrop-ledger/txmgr"
	"github.com/abesuite/airdrop-ledger/utils"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsytem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by calling
// initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	ledgerLog   = backendLog.Logger("LDGR")
	dalLog      = backendLog.Logger("DAL")
	serviceLog  = backendLog.Logger("SRVC")
	cacheLog    = backendLog.Logger("CACH")
	txMgrLog    = backendLog.Logger("TXMG")
	auditMgrLog = backendLog.Logger("AUDT")
	utilsLog    = backendLog.Logger("UTIL")
)

// Initialize package-global logger variables.
func init() {
	dal.UseLogger(dalLog)
	service.UseLogger(serviceLog)
	balancecache.UseLogger(cacheLog)
	txmgr.UseLogger(txMgrLog)
	auditmgr.UseLogger(auditMgrLog)
	utils.UseLogger(utilsLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"LDGR": ledgerLog,
	"DAL":  dalLog,
	"SRVC": serviceLog,
	"CACH": cacheLog,
	"TXMG": txMgrLog,
	"AUDT": auditMgrLog,
	"UTIL": utilsLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 30)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
