package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utmrelay/internal/db"
	"utmrelay/internal/db/dbtest"
)

const window = 120 * time.Second

func click(capturedAtMs int64, source string) *db.AttributionRecord {
	return &db.AttributionRecord{CapturedAtMs: capturedAtMs, UTMSource: strp(source)}
}

func TestFindByTokenMostRecentWins(t *testing.T) {
	ctx := context.Background()
	store := db.NewAttributionStore(dbtest.Open(t))
	now := time.Now().UTC()

	older := click(1000, "old")
	older.CorrelationToken = strp("fbclid-1")
	older.ReceivedAt = now.Add(-time.Hour)
	require.NoError(t, store.Put(ctx, older))

	newer := click(2000, "new")
	newer.CorrelationToken = strp("fbclid-1")
	newer.ReceivedAt = now
	require.NoError(t, store.Put(ctx, newer))

	got, err := store.FindByToken(ctx, "fbclid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", *got.UTMSource)

	got, err = store.FindByToken(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.FindByToken(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindNearestByTimeWindowBoundary(t *testing.T) {
	ctx := context.Background()
	store := db.NewAttributionStore(dbtest.Open(t))
	const T = int64(1_700_000_000_000)
	require.NoError(t, store.Put(ctx, click(T, "fb")))

	got, err := store.FindNearestByTime(ctx, T+window.Milliseconds(), "", window)
	require.NoError(t, err)
	require.NotNil(t, got, "the window is inclusive")
	assert.Equal(t, "fb", *got.UTMSource)

	got, err = store.FindNearestByTime(ctx, T+window.Milliseconds()+1, "", window)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.FindNearestByTime(ctx, T-window.Milliseconds(), "", window)
	require.NoError(t, err)
	assert.NotNil(t, got, "clicks may arrive after the sale")
}

func TestFindNearestByTimePicksClosest(t *testing.T) {
	ctx := context.Background()
	store := db.NewAttributionStore(dbtest.Open(t))

	require.NoError(t, store.Put(ctx, click(1_000_000, "far")))
	require.NoError(t, store.Put(ctx, click(1_000_450, "near")))
	require.NoError(t, store.Put(ctx, click(1_001_000, "after")))

	got, err := store.FindNearestByTime(ctx, 1_000_500, "", window)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "near", *got.UTMSource)
}

func TestFindNearestByTimeOriginFilter(t *testing.T) {
	ctx := context.Background()
	store := db.NewAttributionStore(dbtest.Open(t))

	a := click(1_000_000, "a")
	a.NetworkOrigin = strp("198.51.100.1")
	b := click(1_000_400, "b")
	b.NetworkOrigin = strp("198.51.100.2")
	require.NoError(t, store.Put(ctx, a))
	require.NoError(t, store.Put(ctx, b))

	got, err := store.FindNearestByTime(ctx, 1_000_500, "198.51.100.1", window)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", *got.UTMSource)

	for _, sentinel := range []string{"", "bot", db.OriginTelegram} {
		got, err = store.FindNearestByTime(ctx, 1_000_500, sentinel, window)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b", *got.UTMSource, "sentinel %q must not filter", sentinel)
	}

	got, err = store.FindNearestByTime(ctx, 1_000_500, "203.0.113.9", window)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	store := db.NewAttributionStore(dbtest.Open(t))
	now := time.Now().UTC()

	stale := click(1_000_000, "stale")
	stale.CorrelationToken = strp("stale-token")
	stale.ReceivedAt = now.Add(-25 * time.Hour)
	fresh := click(1_000_000, "fresh")
	fresh.CorrelationToken = strp("fresh-token")
	fresh.ReceivedAt = now.Add(-time.Hour)
	require.NoError(t, store.Put(ctx, stale))
	require.NoError(t, store.Put(ctx, fresh))

	got, err := store.FindByToken(ctx, "stale-token")
	require.NoError(t, err)
	require.NotNil(t, got, "present before the purge")

	n, err := db.RunRetentionOnce(ctx, store, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = store.FindByToken(ctx, "stale-token")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.FindByToken(ctx, "fresh-token")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPutDefaultsReceivedAt(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	store := db.NewAttributionStore(dbtest.Open(t)).WithClock(func() time.Time { return fixed })

	rec := click(1, "x")
	require.NoError(t, store.Put(ctx, rec))
	assert.True(t, rec.ReceivedAt.Equal(fixed))
}

func TestSenderTokensBindReplaces(t *testing.T) {
	ctx := context.Background()
	senders := db.NewSenderTokens(dbtest.Open(t))

	tok, err := senders.TokenFor(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, senders.Bind(ctx, 42, "first"))
	require.NoError(t, senders.Bind(ctx, 42, "second"))
	require.NoError(t, senders.Bind(ctx, 7, "other"))

	tok, err = senders.TokenFor(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}
