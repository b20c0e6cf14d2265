package correlate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utmrelay/internal/db"
	"utmrelay/internal/db/dbtest"
)

func strp(s string) *string { return &s }

type fakeFinder struct {
	byToken    map[string]*db.AttributionRecord
	nearest    *db.AttributionRecord
	tokenErr   error
	timeErr    error
	timeCalls  int
	lastOrigin string
}

func (f *fakeFinder) FindByToken(_ context.Context, token string) (*db.AttributionRecord, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return f.byToken[token], nil
}

func (f *fakeFinder) FindNearestByTime(_ context.Context, _ int64, origin string, _ time.Duration) (*db.AttributionRecord, error) {
	f.timeCalls++
	f.lastOrigin = origin
	if f.timeErr != nil {
		return nil, f.timeErr
	}
	return f.nearest, nil
}

type fakeSenders map[int64]string

func (f fakeSenders) TokenFor(_ context.Context, id int64) (string, error) {
	return f[id], nil
}

var (
	byTokenRec = &db.AttributionRecord{UTMSource: strp("token-src")}
	bySender   = &db.AttributionRecord{UTMSource: strp("sender-src")}
	byTime     = &db.AttributionRecord{UTMSource: strp("time-src")}
)

func TestTokenBeatsTime(t *testing.T) {
	f := &fakeFinder{byToken: map[string]*db.AttributionRecord{"tok": byTokenRec}, nearest: byTime}
	c := New(f, nil, time.Minute)

	m := c.Resolve(context.Background(), Query{Token: "tok", ObservedAtMs: 1000})
	assert.Equal(t, TierToken, m.Tier)
	assert.Equal(t, "token-src", *m.Attribution().UTMSource)
	assert.Zero(t, f.timeCalls)
}

func TestSenderBeatsToken(t *testing.T) {
	f := &fakeFinder{byToken: map[string]*db.AttributionRecord{"tok": byTokenRec, "s-tok": bySender}, nearest: byTime}
	c := New(f, fakeSenders{42: "s-tok"}, time.Minute)

	m := c.Resolve(context.Background(), Query{SenderID: 42, Token: "tok", ObservedAtMs: 1000})
	assert.Equal(t, TierSender, m.Tier)
	assert.Equal(t, "sender-src", *m.Attribution().UTMSource)
}

func TestUnknownTokenFallsBackToTime(t *testing.T) {
	f := &fakeFinder{byToken: map[string]*db.AttributionRecord{}, nearest: byTime}
	c := New(f, fakeSenders{}, time.Minute)

	m := c.Resolve(context.Background(), Query{SenderID: 42, Token: "gone", ObservedAtMs: 1000, Origin: "telegram"})
	assert.Equal(t, TierTime, m.Tier)
	assert.Equal(t, "telegram", f.lastOrigin)
}

func TestErrorsFallThrough(t *testing.T) {
	f := &fakeFinder{tokenErr: errors.New("db down"), nearest: byTime}
	c := New(f, nil, time.Minute)

	m := c.Resolve(context.Background(), Query{Token: "tok", ObservedAtMs: 1000})
	assert.Equal(t, TierTime, m.Tier)

	f.timeErr = errors.New("db down")
	m = c.Resolve(context.Background(), Query{Token: "tok", ObservedAtMs: 1000})
	assert.Equal(t, TierNone, m.Tier)
	assert.Nil(t, m.Record)
	assert.Nil(t, m.Attribution().UTMSource)
}

type failingSenders struct{}

func (failingSenders) TokenFor(context.Context, int64) (string, error) {
	return "", errors.New("db down")
}

func TestSenderLookupErrorFallsThroughToToken(t *testing.T) {
	f := &fakeFinder{byToken: map[string]*db.AttributionRecord{"tok": byTokenRec}}
	c := New(f, failingSenders{}, time.Minute)

	m := c.Resolve(context.Background(), Query{SenderID: 7, Token: "tok", ObservedAtMs: 1000})
	assert.Equal(t, TierToken, m.Tier)
	assert.Same(t, byTokenRec, m.Record)
}

func TestNoMatch(t *testing.T) {
	c := New(&fakeFinder{}, nil, time.Minute)
	m := c.Resolve(context.Background(), Query{ObservedAtMs: 1000})
	assert.Equal(t, TierNone, m.Tier)
}

// Against the real store: a click at 1000000 matches a sale seen at 1000500.
func TestResolveAgainstStore(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	store := db.NewAttributionStore(gdb)
	require.NoError(t, store.Put(ctx, &db.AttributionRecord{
		CapturedAtMs: 1_000_000,
		UTMSource:    strp("fb"),
		UTMCampaign:  strp("x"),
	}))
	require.NoError(t, store.Put(ctx, &db.AttributionRecord{
		CapturedAtMs:     1_000_400,
		CorrelationToken: strp("fbclid-9"),
		UTMSource:        strp("google"),
	}))

	c := New(store, db.NewSenderTokens(gdb), 120*time.Second)

	m := c.Resolve(ctx, Query{ObservedAtMs: 1_000_500 + 400, Origin: db.OriginTelegram})
	require.Equal(t, TierTime, m.Tier)
	assert.Equal(t, "google", *m.Record.UTMSource, "nearest click wins")

	m = c.Resolve(ctx, Query{Token: "fbclid-9", ObservedAtMs: 1_000_000})
	require.Equal(t, TierToken, m.Tier)
	assert.Equal(t, "google", *m.Record.UTMSource, "token wins over a closer click")
}
