package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/synthlabs/synth-ledger/chain"
	"github.com/synthlabs/synth-ledger/collateral"
	"github.com/synthlabs/synth-ledger/common/logging"
	"github.com/synthlabs/synth-ledger/mint"
	"github.com/synthlabs/synth-ledger/oracle"
	"github.com/synthlabs/synth-ledger/staking"
	"github.com/synthlabs/synth-ledger/token"
)

var (
	admin   = common.HexToAddress("0x01")
	factory = common.HexToAddress("0x02")
	custody = common.HexToAddress("0x03")
	feeder  = common.HexToAddress("0x04")
	alice   = common.HexToAddress("0x0a")
	busd    = common.HexToAddress("0xc0")
	apple   = common.HexToAddress("0xc1")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngines(t *testing.T) (Engines, *chain.Manual) {
	t.Helper()
	clock := chain.NewManual(100, 1000)
	tokens := token.NewLedger(admin)
	require.NoError(t, tokens.RegisterMinter(admin, admin, true))
	require.NoError(t, tokens.RegisterMinter(admin, custody, true))
	require.NoError(t, tokens.Mint(admin, busd, alice, d("100000")))
	require.NoError(t, tokens.Mint(admin, apple, alice, d("100")))
	require.NoError(t, tokens.Mint(admin, busd, factory, d("1000")))

	feeds := oracle.New(admin, clock)
	require.NoError(t, feeds.RegisterAsset(admin, apple, feeder))
	require.NoError(t, feeds.FeedPrice(feeder, apple, d("2")))

	mintLedger := mint.NewLedger(admin, custody, mint.Config{
		Factory:         factory,
		BaseToken:       busd,
		ProtocolFeeRate: d("0.015"),
	}, clock, tokens, feeds)
	require.NoError(t, mintLedger.UpdateAsset(factory, apple, d("0.2"), d("1.5")))

	collateralLedger := collateral.NewLedger(admin, custody, clock, tokens)
	require.NoError(t, collateralLedger.UpdateConfig(admin, custody,
		[]common.Address{busd}, []decimal.Decimal{d("0.1")}))

	stakingLedger := staking.NewLedger(admin, custody, staking.Config{
		Factory:     factory,
		RewardToken: busd,
	}, clock, tokens, collateralLedger)
	require.NoError(t, stakingLedger.RegisterAsset(factory, apple, common.Address{}))

	return Engines{
		Mint:       mintLedger,
		Collateral: collateralLedger,
		Staking:    stakingLedger,
		Oracle:     feeds,
	}, clock
}

func newTestServer(t *testing.T) (*LedgerServer, Engines) {
	engines, _ := newTestEngines(t)
	server := NewLedgerServer(context.Background(), logging.NewLoggerTag("test"),
		":0", engines)
	return server, engines
}

func TestQueryPositions(t *testing.T) {
	server, engines := newTestServer(t)
	index, err := engines.Mint.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.OnQueryPositions(rec, httptest.NewRequest(
		"GET", "/positions?owner="+alice.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []PositionResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	require.Equal(t, index, resp[0].Index)
	require.Equal(t, "250", resp[0].SyntheticAmount)
}

func TestQueryPositionsRejectsBadOwner(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.OnQueryPositions(rec, httptest.NewRequest("GET", "/positions?owner=nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	server.OnQueryPositions(rec, httptest.NewRequest("POST", "/positions", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQueryInvalidPositions(t *testing.T) {
	server, engines := newTestServer(t)
	_, err := engines.Mint.OpenPosition(alice, busd, d("1000"), apple, d("1.51"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.OnQueryInvalidPositions(rec, httptest.NewRequest(
		"GET", "/positions/invalid?asset="+apple.Hex(), nil))
	var resp []PositionResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Empty(t, resp)

	require.NoError(t, engines.Oracle.FeedPrice(feeder, apple, d("2.1")))
	rec = httptest.NewRecorder()
	server.OnQueryInvalidPositions(rec, httptest.NewRequest(
		"GET", "/positions/invalid?asset="+apple.Hex(), nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
}

func TestQueryUnlocked(t *testing.T) {
	engines, clock := newTestEngines(t)
	server := NewLedgerServer(context.Background(), logging.NewLoggerTag("test"),
		":0", engines)

	require.NoError(t, engines.Collateral.Deposit(alice, busd, d("500")))
	clock.AdvanceBlocks(2)

	rec := httptest.NewRecorder()
	server.OnQueryUnlocked(rec, httptest.NewRequest(
		"GET", "/unlocked?account="+alice.Hex()+"&asset="+busd.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UnlockedResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "500", resp.Amount)
	require.Equal(t, "100", resp.Unlocked)
}

func TestInternalDepositReward(t *testing.T) {
	engines, _ := newTestEngines(t)
	internal := NewInternalServer(context.Background(), logging.NewLoggerTag("test"),
		":0", engines, admin, factory, feeder)

	require.NoError(t, engines.Staking.Stake(alice, apple, d("40")))

	rec := httptest.NewRecorder()
	internal.OnDepositReward(rec, httptest.NewRequest(
		"POST", "/depositReward?asset="+apple.Hex()+"&amount=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	pool := engines.Staking.QueryStake(apple)
	require.True(t, pool.RewardIndex.Equal(d("2.5")))

	rec = httptest.NewRecorder()
	internal.OnDepositReward(rec, httptest.NewRequest(
		"POST", "/depositReward?asset="+busd.Hex()+"&amount=100", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code) // no such pool

	rec = httptest.NewRecorder()
	internal.OnFeedPrice(rec, httptest.NewRequest(
		"POST", "/feedPrice?asset="+apple.Hex()+"&price=2.5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	price, _, err := engines.Oracle.QueryPrice(apple)
	require.NoError(t, err)
	require.True(t, price.Equal(d("2.5")))
}

// A node with empty engines must be able to list its first market entirely
// through the internal surface.
func TestInternalBootstrapFreshNode(t *testing.T) {
	clock := chain.NewManual(100, 1000)
	tokens := token.NewLedger(admin)
	require.NoError(t, tokens.RegisterMinter(admin, admin, true))
	require.NoError(t, tokens.RegisterMinter(admin, custody, true))
	require.NoError(t, tokens.Mint(admin, busd, alice, d("100000")))
	require.NoError(t, tokens.Mint(admin, busd, factory, d("1000")))

	feeds := oracle.New(admin, clock)
	mintLedger := mint.NewLedger(admin, custody, mint.Config{
		Factory:         factory,
		BaseToken:       busd,
		ProtocolFeeRate: d("0.015"),
	}, clock, tokens, feeds)
	collateralLedger := collateral.NewLedger(admin, custody, clock, tokens)
	require.NoError(t, collateralLedger.UpdateConfig(admin, custody, nil, nil))
	stakingLedger := staking.NewLedger(admin, custody, staking.Config{
		Factory:     factory,
		RewardToken: busd,
	}, clock, tokens, collateralLedger)
	engines := Engines{
		Mint:       mintLedger,
		Collateral: collateralLedger,
		Staking:    stakingLedger,
		Oracle:     feeds,
	}
	internal := NewInternalServer(context.Background(), logging.NewLoggerTag("test"),
		":0", engines, admin, factory, feeder)

	// unregistered asset cannot be fed
	rec := httptest.NewRecorder()
	internal.OnFeedPrice(rec, httptest.NewRequest(
		"POST", "/feedPrice?asset="+apple.Hex()+"&price=2", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	internal.OnRegisterOracleAsset(rec, httptest.NewRequest(
		"POST", "/registerOracleAsset?asset="+apple.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	internal.OnFeedPrice(rec, httptest.NewRequest(
		"POST", "/feedPrice?asset="+apple.Hex()+"&price=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	internal.OnUpdateAsset(rec, httptest.NewRequest(
		"POST", "/updateAsset?asset="+apple.Hex()+"&auctionDiscount=0.2&minCollateralRatio=1.5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// the market is live
	_, err := mintLedger.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	require.NoError(t, err)

	// collateral deposits need an unlock speed first
	require.Error(t, collateralLedger.Deposit(alice, busd, d("500")))
	rec = httptest.NewRecorder()
	internal.OnUpdateUnlockSpeed(rec, httptest.NewRequest(
		"POST", "/updateUnlockSpeed?asset="+busd.Hex()+"&speed=0.1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, collateralLedger.Deposit(alice, busd, d("500")))

	// self-staking pool, then rewards flow
	rec = httptest.NewRecorder()
	internal.OnRegisterStakePool(rec, httptest.NewRequest(
		"POST", "/registerStakePool?asset="+apple.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, stakingLedger.Stake(alice, apple, d("40")))
	rec = httptest.NewRecorder()
	internal.OnDepositReward(rec, httptest.NewRequest(
		"POST", "/depositReward?asset="+apple.Hex()+"&amount=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, stakingLedger.QueryStake(apple).RewardIndex.Equal(d("2.5")))

	rec = httptest.NewRecorder()
	internal.OnUpdateCollateralMapping(rec, httptest.NewRequest(
		"POST", "/updateCollateralMapping?asset="+apple.Hex()+"&collateral="+busd.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, busd, stakingLedger.QueryCollateralAssetMapping()[apple])

	rec = httptest.NewRecorder()
	internal.OnUpdateClaimInterval(rec, httptest.NewRequest(
		"POST", "/updateClaimInterval?asset="+apple.Hex()+"&interval=3600", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	internal.OnUpdateClaimInterval(rec, httptest.NewRequest(
		"POST", "/updateClaimInterval?asset="+apple.Hex()+"&interval=-1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
