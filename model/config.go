package model

// LedgerConfig is the ledger-wide configuration shared by the allocators and
// the reconciliation manager.
type LedgerConfig struct {
	Chain        string
	AirdropToken string
	MaxBatchSize int
}
