// Package idempotency derives the deduplication keys of the sale ledger.
//
// TransactionKey is the normal key. TupleKey exists for sources that
// cannot supply a transaction id; it is weaker, since two real sales with
// the same amount and attribution collapse into one.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	transactionPrefix = "txn:"
	tuplePrefix       = "tuple:"
)

// TransactionKey returns the ledger key for a gateway transaction id.
func TransactionKey(transactionID string) string {
	return transactionPrefix + digest(strings.TrimSpace(transactionID))
}

// Tuple is the identity of a sale that has no transaction id.
type Tuple struct {
	Amount      decimal.Decimal
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMContent  string
	UTMTerm     string
	Origin      string
	UserAgent   string
}

// TupleKey returns the fallback ledger key for t. Field order is fixed.
func TupleKey(t Tuple) string {
	parts := []string{
		t.Amount.StringFixed(2),
		t.UTMSource,
		t.UTMMedium,
		t.UTMCampaign,
		t.UTMContent,
		t.UTMTerm,
		t.Origin,
		t.UserAgent,
	}
	return tuplePrefix + digest(strings.Join(parts, "|"))
}

// IsTupleKey reports whether key came from TupleKey.
func IsTupleKey(key string) bool {
	return strings.HasPrefix(key, tuplePrefix)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
