package model

// AuditReport is one pass of the ledger audit.
type AuditReport struct {
	GrantViolations int64 `json:"grant_violations"`
	ProofViolations int64 `json:"proof_violations"`
	TotalGranted    int64 `json:"total_granted"`
	TotalUsed       int64 `json:"total_used"`
	TotalFunded     int64 `json:"total_funded"`
	TotalAllocated  int64 `json:"total_allocated"`
	CheckedAt       int64 `json:"checked_at"`
}

func (r *AuditReport) Healthy() bool {
	return r.GrantViolations == 0 && r.ProofViolations == 0 && r.TotalAllocated <= r.TotalFunded
}
