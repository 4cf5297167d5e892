package errcode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNilGormDB = errors.New("nil gorm db")

// Kind classifies the outcome of a failed ledger operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNoEligibleGrant
	KindPartialFulfillment
	KindBatchTooLarge
	KindUnknownFundingTransaction
	KindFundingCeilingExceeded
	KindPersistence
)

var kindStrings = map[Kind]string{
	KindUnknown:                   "Unknown",
	KindInvalidInput:              "InvalidInput",
	KindNoEligibleGrant:           "NoEligibleGrant",
	KindPartialFulfillment:        "PartialFulfillment",
	KindBatchTooLarge:             "BatchTooLarge",
	KindUnknownFundingTransaction: "UnknownFundingTransaction",
	KindFundingCeilingExceeded:    "FundingCeilingExceeded",
	KindPersistence:               "PersistenceError",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// LedgerError is returned by every ledger operation that did not fully
// succeed.  Detail carries structured debug data, Err the underlying store
// error if there is one.
type LedgerError struct {
	Kind   Kind
	Op     string
	Detail map[string]interface{}
	Err    error
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if len(e.Detail) > 0 {
		keys := make([]string, 0, len(e.Detail))
		for k := range e.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Detail[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a LedgerError of the same kind, so callers
// can write errors.Is(err, errcode.ErrPartialFulfillment).
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput              = &LedgerError{Kind: KindInvalidInput}
	ErrNoEligibleGrant           = &LedgerError{Kind: KindNoEligibleGrant}
	ErrPartialFulfillment        = &LedgerError{Kind: KindPartialFulfillment}
	ErrBatchTooLarge             = &LedgerError{Kind: KindBatchTooLarge}
	ErrUnknownFundingTransaction = &LedgerError{Kind: KindUnknownFundingTransaction}
	ErrFundingCeilingExceeded    = &LedgerError{Kind: KindFundingCeilingExceeded}
	ErrPersistence               = &LedgerError{Kind: KindPersistence}
)

func New(kind Kind, op string, detail map[string]interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Op: op, Detail: detail}
}

func Wrap(kind Kind, op string, err error, detail map[string]interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf returns the kind of err, KindUnknown if err is not a LedgerError.
func KindOf(err error) Kind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
