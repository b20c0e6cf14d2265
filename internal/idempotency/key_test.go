package idempotency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransactionKeyDeterministic(t *testing.T) {
	a := TransactionKey("abc123456789")
	b := TransactionKey("  abc123456789 ")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TransactionKey("abc123456780"))
	assert.Len(t, a, len("txn:")+64)
	assert.False(t, IsTupleKey(a))
}

func TestTupleKey(t *testing.T) {
	base := Tuple{
		Amount:    decimal.RequireFromString("99.9"),
		UTMSource: "fb",
		Origin:    "203.0.113.7",
	}
	same := base
	same.Amount = decimal.RequireFromString("99.90")

	assert.Equal(t, TupleKey(base), TupleKey(same))
	assert.True(t, IsTupleKey(TupleKey(base)))

	other := base
	other.UTMCampaign = "x"
	assert.NotEqual(t, TupleKey(base), TupleKey(other))

	// Fields are positional: moving a value to another field changes the key.
	moved := base
	moved.UTMSource, moved.UTMMedium = "", "fb"
	assert.NotEqual(t, TupleKey(base), TupleKey(moved))
}

func TestTupleKeyNeverEqualsTransactionKey(t *testing.T) {
	assert.NotEqual(t, TransactionKey("x"), TupleKey(Tuple{}))
}
