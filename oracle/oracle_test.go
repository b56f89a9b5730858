package oracle

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/synthlabs/synth-ledger/chain"
)

var (
	owner  = common.HexToAddress("0x01")
	feeder = common.HexToAddress("0x02")
	apple  = common.HexToAddress("0xa1")
	busd   = common.HexToAddress("0xb1")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFeedAndQuery(t *testing.T) {
	clock := chain.NewManual(100, 1000)
	o := New(owner, clock)

	_, _, err := o.QueryPrice(apple)
	require.True(t, errors.Is(err, ErrUnknownAsset))

	require.NoError(t, o.RegisterAsset(owner, apple, feeder))
	_, _, err = o.QueryPrice(apple)
	require.True(t, errors.Is(err, ErrNoPriceYet))

	err = o.FeedPrice(owner, apple, d("2"))
	require.True(t, errors.Is(err, ErrUnauthorized))

	require.NoError(t, o.FeedPrice(feeder, apple, d("2")))
	price, updated, err := o.QueryPrice(apple)
	require.NoError(t, err)
	require.True(t, price.Equal(d("2")))
	require.Equal(t, int64(1000), updated)

	clock.AdvanceTime(50)
	require.NoError(t, o.FeedPrice(feeder, apple, d("2.1")))
	price, updated, err = o.QueryPrice(apple)
	require.NoError(t, err)
	require.True(t, price.Equal(d("2.1")))
	require.Equal(t, int64(1050), updated)

	err = o.FeedPrice(feeder, apple, decimal.Zero)
	require.True(t, errors.Is(err, ErrInvalidPrice))
}

func TestQueryPriceByDenominate(t *testing.T) {
	clock := chain.NewManual(0, 1000)
	o := New(owner, clock)
	require.NoError(t, o.RegisterAsset(owner, apple, feeder))
	require.NoError(t, o.RegisterAsset(owner, busd, feeder))
	require.NoError(t, o.FeedPrice(feeder, busd, d("1")))
	clock.AdvanceTime(10)
	require.NoError(t, o.FeedPrice(feeder, apple, d("2")))

	rel, updated, err := o.QueryPriceByDenominate(busd, apple)
	require.NoError(t, err)
	require.True(t, rel.Equal(d("0.5")), "got %s", rel)
	// the staler feed bounds the pair timestamp
	require.Equal(t, int64(1000), updated)
}

func TestSnapshotRestore(t *testing.T) {
	clock := chain.NewManual(0, 1000)
	o := New(owner, clock)
	require.NoError(t, o.RegisterAsset(owner, apple, feeder))
	require.NoError(t, o.FeedPrice(feeder, apple, d("3")))

	records := o.Snapshot()
	restored := New(owner, clock)
	restored.Restore(records)

	price, updated, err := restored.QueryPrice(apple)
	require.NoError(t, err)
	require.True(t, price.Equal(d("3")))
	require.Equal(t, int64(1000), updated)
}
