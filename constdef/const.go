package constdef

const (
	MaxAirdropIDLength = 64
	MaxTokenLength     = 64
	MaxChainLength     = 32
)

const (
	// DefaultMaxBatchSize bounds the number of users a single batch
	// allocation may materialize.
	DefaultMaxBatchSize = 500
	// InsertBatchSize is the chunk size handed to CreateInBatches.
	InsertBatchSize = 100
)

const (
	DefaultLRUCacheEntries   = 100000
	DefaultFastCacheMaxBytes = 32 * 1024 * 1024
	DefaultAuthorityRPS      = 20
	DefaultAuthorityBurst    = 5
)
