package mint

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/synthlabs/synth-ledger/chain"
	"github.com/synthlabs/synth-ledger/oracle"
	"github.com/synthlabs/synth-ledger/token"
)

var (
	admin      = common.HexToAddress("0x01")
	factory    = common.HexToAddress("0x02")
	collector  = common.HexToAddress("0x03")
	custody    = common.HexToAddress("0x04")
	feeder     = common.HexToAddress("0x05")
	alice      = common.HexToAddress("0x0a")
	liquidator = common.HexToAddress("0x0b")
	busd       = common.HexToAddress("0xc0")
	apple      = common.HexToAddress("0xc1")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type MintTestSuite struct {
	suite.Suite

	clock  *chain.Manual
	tokens *token.Ledger
	oracle *oracle.Oracle
	ledger *Ledger
}

func (s *MintTestSuite) SetupTest() {
	s.clock = chain.NewManual(100, 1000)
	s.tokens = token.NewLedger(admin)
	s.Require().NoError(s.tokens.RegisterMinter(admin, admin, true))
	s.Require().NoError(s.tokens.RegisterMinter(admin, custody, true))
	s.Require().NoError(s.tokens.Mint(admin, busd, alice, d("100000")))
	s.Require().NoError(s.tokens.Mint(admin, busd, liquidator, d("100000")))

	s.oracle = oracle.New(admin, s.clock)
	s.Require().NoError(s.oracle.RegisterAsset(admin, apple, feeder))
	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("2")))

	s.ledger = NewLedger(admin, custody, Config{
		Factory:         factory,
		Collector:       collector,
		BaseToken:       busd,
		ProtocolFeeRate: d("0.015"),
		PriceExpireTime: 120,
	}, s.clock, s.tokens, s.oracle)
	s.Require().NoError(s.ledger.UpdateAsset(factory, apple, d("0.2"), d("1.5")))
}

func (s *MintTestSuite) TestUpdateAssetAuthorization() {
	err := s.ledger.UpdateAsset(alice, apple, d("0.2"), d("1.5"))
	s.Require().True(errors.Is(err, ErrUnauthorized))

	s.Require().NoError(s.ledger.UpdateAsset(admin, apple, d("0.3"), d("1.8")))
	cfg, err := s.ledger.QueryAssetConfig(apple)
	s.Require().NoError(err)
	s.Require().True(cfg.AuctionDiscount.Equal(d("0.3")))
	s.Require().True(cfg.MinCollateralRatio.Equal(d("1.8")))

	err = s.ledger.UpdateAsset(admin, apple, d("1.2"), d("1.5"))
	s.Require().True(errors.Is(err, ErrInvalidConfig))
}

func (s *MintTestSuite) TestOpenPositionMintsAtChosenRatio() {
	// 1000 collateral at price parity 1:2 and ratio 1.51
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("1.51"))
	s.Require().NoError(err)
	s.Require().Equal(uint64(1), index)

	pos, err := s.ledger.QueryPosition(index)
	s.Require().NoError(err)
	s.Require().True(pos.CollateralAmount.Equal(d("1000")))
	// 1000 * (1/2) / 1.51, floored at 18 decimals
	s.Require().True(pos.SyntheticAmount.Equal(d("331.125827814569536423")))
	s.Require().True(s.tokens.BalanceOf(apple, alice).Equal(pos.SyntheticAmount))
	s.Require().True(s.tokens.BalanceOf(busd, custody).Equal(d("1000")))
}

func (s *MintTestSuite) TestParityMintAndPriceDrop() {
	// at price parity, 2 collateral at ratio 2 mints exactly 1
	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("1")))
	index, err := s.ledger.OpenPosition(alice, busd, d("2"), apple, d("2"))
	s.Require().NoError(err)

	pos, err := s.ledger.QueryPosition(index)
	s.Require().NoError(err)
	s.Require().True(pos.SyntheticAmount.Equal(d("1")))
	s.Require().Empty(s.ledger.QueryInvalidPositions(apple))

	// synthetic appreciates, ratio falls to 2/1.4 < 1.5
	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("1.4")))
	invalid := s.ledger.QueryInvalidPositions(apple)
	s.Require().Len(invalid, 1)
	s.Require().Equal(index, invalid[0].Index)
}

func (s *MintTestSuite) TestOpenPositionReusesTriple() {
	index, err := s.ledger.OpenPosition(alice, busd, d("100"), apple, d("2"))
	s.Require().NoError(err)
	again, err := s.ledger.OpenPosition(alice, busd, d("100"), apple, d("2"))
	s.Require().NoError(err)
	s.Require().Equal(index, again)

	pos, err := s.ledger.QueryPosition(index)
	s.Require().NoError(err)
	s.Require().True(pos.CollateralAmount.Equal(d("200")))
	s.Require().True(pos.SyntheticAmount.Equal(d("50")))

	found, err := s.ledger.QueryPositionIndex(alice, busd, apple)
	s.Require().NoError(err)
	s.Require().Equal(index, found)
}

func (s *MintTestSuite) TestOpenPositionRejectsBelowMinimumRatio() {
	_, err := s.ledger.OpenPosition(alice, busd, d("100"), apple, d("1.2"))
	s.Require().True(errors.Is(err, ErrRatioBelowMinimum))

	_, err = s.ledger.OpenPosition(alice, busd, d("100"), common.HexToAddress("0xff"), d("2"))
	s.Require().True(errors.Is(err, ErrAssetNotRegistered))
}

func (s *MintTestSuite) TestDepositRequiresOwner() {
	index, err := s.ledger.OpenPosition(alice, busd, d("100"), apple, d("2"))
	s.Require().NoError(err)

	s.Require().NoError(s.ledger.Deposit(alice, index, busd, d("50")))
	pos, _ := s.ledger.QueryPosition(index)
	s.Require().True(pos.CollateralAmount.Equal(d("150")))

	err = s.ledger.Deposit(liquidator, index, busd, d("50"))
	s.Require().True(errors.Is(err, ErrUnauthorized))
}

func (s *MintTestSuite) TestWithdrawChargesFeeAndChecksRatio() {
	// 1000 collateral, ratio 2, price 2 -> 250 synthetic
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	s.Require().NoError(err)

	before := s.tokens.BalanceOf(busd, alice)
	s.Require().NoError(s.ledger.Withdraw(alice, index, busd, d("100")))
	// fee 100 * 0.015 to the collector, the rest back to the owner
	s.Require().True(s.tokens.BalanceOf(busd, collector).Equal(d("1.5")))
	s.Require().True(s.tokens.BalanceOf(busd, alice).Equal(before.Add(d("98.5"))))

	pos, _ := s.ledger.QueryPosition(index)
	s.Require().True(pos.CollateralAmount.Equal(d("900")))

	// 900 - 200 = 700 against 250 * 2 = 500 debt -> ratio 1.4 < 1.5
	err = s.ledger.Withdraw(alice, index, busd, d("200"))
	s.Require().True(errors.Is(err, ErrInsufficientCollateral))
	pos, _ = s.ledger.QueryPosition(index)
	s.Require().True(pos.CollateralAmount.Equal(d("900")))
}

func (s *MintTestSuite) TestMintMoreChecksRatio() {
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	s.Require().NoError(err)

	// 250 -> 300 synthetic: 1000 / (300*2) = 1.666..., still safe
	s.Require().NoError(s.ledger.Mint(alice, index, apple, d("50")))
	pos, _ := s.ledger.QueryPosition(index)
	s.Require().True(pos.SyntheticAmount.Equal(d("300")))
	s.Require().True(s.tokens.BalanceOf(apple, alice).Equal(d("300")))

	// 300 -> 400: 1000 / 800 = 1.25 < 1.5
	err = s.ledger.Mint(alice, index, apple, d("100"))
	s.Require().True(errors.Is(err, ErrInsufficientCollateral))
}

func (s *MintTestSuite) TestBurnRefundsProportionalCollateral() {
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	s.Require().NoError(err)
	before := s.tokens.BalanceOf(busd, alice)

	// burn half the 250 debt -> half the collateral comes back
	s.Require().NoError(s.ledger.Burn(alice, index, apple, d("125")))
	pos, _ := s.ledger.QueryPosition(index)
	s.Require().True(pos.SyntheticAmount.Equal(d("125")))
	s.Require().True(pos.CollateralAmount.Equal(d("500")))
	s.Require().True(s.tokens.BalanceOf(busd, alice).Equal(before.Add(d("500"))))
	s.Require().True(s.tokens.BalanceOf(apple, alice).Equal(d("125")))

	err = s.ledger.Burn(alice, index, apple, d("200"))
	s.Require().True(errors.Is(err, ErrBurnExceedsSynthetic))
}

func (s *MintTestSuite) TestAuctionLifecycle() {
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("1.51"))
	s.Require().NoError(err)

	// safe at price 2
	_, _, err = s.ledger.Auction(liquidator, index, d("1"))
	s.Require().True(errors.Is(err, ErrCannotLiquidateSafePosition))

	// price moves against the position: 1000 / (331.12... * 2.1) < 1.5
	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("2.1")))

	_, _, err = s.ledger.Auction(liquidator, index, d("22"))
	s.Require().True(errors.Is(err, ErrAuctionAllowanceNotEnough))

	// the liquidator needs synthetic tokens to pay with
	s.Require().NoError(s.tokens.Mint(admin, apple, liquidator, d("1000")))
	s.Require().NoError(s.tokens.Approve(liquidator, apple, custody, d("1000000")))

	liquidated, paid, err := s.ledger.Auction(liquidator, index, d("22"))
	s.Require().NoError(err)
	s.Require().True(liquidated.Equal(d("22")))
	// 22 * 2.1 / 1 * 1.2
	s.Require().True(paid.Equal(d("55.44")))
	s.Require().True(s.tokens.BalanceOf(busd, liquidator).Equal(d("100055.44")))

	_, _, err = s.ledger.Auction(liquidator, index, d("33"))
	s.Require().NoError(err)

	// oversized request clamps at half the remaining synthetic amount
	pos, _ := s.ledger.QueryPosition(index)
	remaining := pos.SyntheticAmount
	liquidated, paid, err = s.ledger.Auction(liquidator, index, d("33000"))
	s.Require().NoError(err)
	s.Require().True(liquidated.Equal(d("138.062913907284768211")))
	s.Require().True(paid.Equal(d("347.918543046357615891")))

	pos, _ = s.ledger.QueryPosition(index)
	s.Require().True(pos.SyntheticAmount.Equal(remaining.Sub(liquidated)))
}

func (s *MintTestSuite) TestAuctionRejectsDustDebt() {
	// 4e-18 collateral mints a 1e-18 debt; half of it truncates to zero
	index, err := s.ledger.OpenPosition(alice, busd, d("0.000000000000000004"), apple, d("2"))
	s.Require().NoError(err)
	pos, _ := s.ledger.QueryPosition(index)
	s.Require().True(pos.SyntheticAmount.Equal(d("0.000000000000000001")))

	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("3")))
	s.Require().NoError(s.tokens.Mint(admin, apple, liquidator, d("1")))
	s.Require().NoError(s.tokens.Approve(liquidator, apple, custody, d("1")))

	_, _, err = s.ledger.Auction(liquidator, index, d("0.000000000000000001"))
	s.Require().True(errors.Is(err, ErrInvalidAmount))

	after, _ := s.ledger.QueryPosition(index)
	s.Require().True(after.SyntheticAmount.Equal(pos.SyntheticAmount))
	s.Require().True(after.CollateralAmount.Equal(pos.CollateralAmount))
}

func (s *MintTestSuite) TestQueryInvalidPositions() {
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("1.51"))
	s.Require().NoError(err)
	s.Require().Empty(s.ledger.QueryInvalidPositions(apple))

	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("2.1")))
	invalid := s.ledger.QueryInvalidPositions(apple)
	s.Require().Len(invalid, 1)
	s.Require().Equal(index, invalid[0].Index)
}

func (s *MintTestSuite) TestStalePriceFailsOperations() {
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	s.Require().NoError(err)

	s.clock.AdvanceTime(300)
	err = s.ledger.Mint(alice, index, apple, d("1"))
	s.Require().True(errors.Is(err, ErrPriceExpired))

	_, err = s.ledger.OpenPosition(alice, busd, d("10"), apple, d("2"))
	s.Require().True(errors.Is(err, ErrPriceExpired))

	// a fresh feed revives the ledger
	s.Require().NoError(s.oracle.FeedPrice(feeder, apple, d("2")))
	s.Require().NoError(s.ledger.Mint(alice, index, apple, d("1")))
}

func (s *MintTestSuite) TestSnapshotRestore() {
	index, err := s.ledger.OpenPosition(alice, busd, d("1000"), apple, d("2"))
	s.Require().NoError(err)

	positions, assets := s.ledger.Snapshot()
	s.Require().Len(positions, 1)
	s.Require().Len(assets, 1)

	restored := NewLedger(admin, custody, s.ledger.QueryConfig(), s.clock, s.tokens, s.oracle)
	restored.Restore(positions, assets)

	found, err := restored.QueryPositionIndex(alice, busd, apple)
	s.Require().NoError(err)
	s.Require().Equal(index, found)

	// new positions continue after the restored arena
	other, err := restored.OpenPosition(liquidator, busd, d("100"), apple, d("2"))
	s.Require().NoError(err)
	s.Require().Equal(index+1, other)
}

func TestMintTestSuite(t *testing.T) {
	suite.Run(t, new(MintTestSuite))
}

func TestAllPositionsOrderedByIndex(t *testing.T) {
	clock := chain.NewManual(1, 0)
	tokens := token.NewLedger(admin)
	require.NoError(t, tokens.RegisterMinter(admin, admin, true))
	require.NoError(t, tokens.RegisterMinter(admin, custody, true))
	require.NoError(t, tokens.Mint(admin, busd, alice, d("1000")))

	feeds := oracle.New(admin, clock)
	require.NoError(t, feeds.RegisterAsset(admin, apple, feeder))
	require.NoError(t, feeds.FeedPrice(feeder, apple, d("1")))
	other := common.HexToAddress("0xc2")
	require.NoError(t, feeds.RegisterAsset(admin, other, feeder))
	require.NoError(t, feeds.FeedPrice(feeder, other, d("1")))

	ledger := NewLedger(admin, custody, Config{
		BaseToken:       busd,
		ProtocolFeeRate: d("0.015"),
	}, clock, tokens, feeds)
	require.NoError(t, ledger.UpdateAsset(admin, apple, d("0.2"), d("1.5")))
	require.NoError(t, ledger.UpdateAsset(admin, other, d("0.2"), d("1.5")))

	first, err := ledger.OpenPosition(alice, busd, d("100"), apple, d("2"))
	require.NoError(t, err)
	second, err := ledger.OpenPosition(alice, busd, d("100"), other, d("2"))
	require.NoError(t, err)

	all := ledger.QueryAllPositions(alice)
	require.Len(t, all, 2)
	require.Equal(t, first, all[0].Index)
	require.Equal(t, second, all[1].Index)
}
