package staking

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/synthlabs/synth-ledger/chain"
	"github.com/synthlabs/synth-ledger/collateral"
	"github.com/synthlabs/synth-ledger/token"
)

var (
	admin       = common.HexToAddress("0x01")
	factory     = common.HexToAddress("0x02")
	custody     = common.HexToAddress("0x03")
	lockCustody = common.HexToAddress("0x04")
	alice       = common.HexToAddress("0x0a")
	bob         = common.HexToAddress("0x0b")
	kala        = common.HexToAddress("0xc0")
	lpToken     = common.HexToAddress("0xc1")
	apple       = common.HexToAddress("0xc2")
	busd        = common.HexToAddress("0xc3")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type StakingTestSuite struct {
	suite.Suite

	clock  *chain.Manual
	tokens *token.Ledger
	lock   *collateral.Ledger
	ledger *Ledger
}

func (s *StakingTestSuite) SetupTest() {
	s.clock = chain.NewManual(100, 1000)
	s.tokens = token.NewLedger(admin)
	s.Require().NoError(s.tokens.RegisterMinter(admin, admin, true))
	s.Require().NoError(s.tokens.Mint(admin, lpToken, alice, d("50000")))
	s.Require().NoError(s.tokens.Mint(admin, lpToken, bob, d("50000")))
	s.Require().NoError(s.tokens.Mint(admin, busd, alice, d("50000")))
	s.Require().NoError(s.tokens.Mint(admin, kala, factory, d("1000000")))

	s.lock = collateral.NewLedger(admin, lockCustody, s.clock, s.tokens)
	s.Require().NoError(s.lock.UpdateConfig(admin, custody,
		[]common.Address{busd}, []decimal.Decimal{d("0.1")}))

	s.ledger = NewLedger(admin, custody, Config{
		Factory:     factory,
		RewardToken: kala,
	}, s.clock, s.tokens, s.lock)
	s.Require().NoError(s.ledger.RegisterAsset(factory, apple, lpToken))
}

func (s *StakingTestSuite) TestStakeMovesTokensToCustody() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().True(s.tokens.BalanceOf(lpToken, alice).Equal(d("49980")))
	s.Require().True(s.tokens.BalanceOf(lpToken, custody).Equal(d("20")))

	pool := s.ledger.QueryStake(apple)
	s.Require().True(pool.TotalStaked.Equal(d("20")))
	item := s.ledger.QueryUserStakingItem(alice, apple)
	s.Require().True(item.StakingAmount.Equal(d("20")))
}

func (s *StakingTestSuite) TestUnStakeReturnsTokens() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.UnStake(alice, apple, d("15")))
	s.Require().True(s.tokens.BalanceOf(lpToken, alice).Equal(d("49995")))
	s.Require().True(s.ledger.QueryStake(apple).TotalStaked.Equal(d("5")))

	err := s.ledger.UnStake(alice, apple, d("6"))
	s.Require().True(errors.Is(err, ErrInsufficientStake))
}

func (s *StakingTestSuite) TestDepositRewardParksWhenNothingStaked() {
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("50")))
	pool := s.ledger.QueryStake(apple)
	s.Require().True(pool.PendingReward.Equal(d("50")))
	s.Require().True(pool.RewardIndex.IsZero())
	s.Require().True(s.tokens.BalanceOf(kala, custody).Equal(d("50")))
}

func (s *StakingTestSuite) TestRewardIndexFoldsPendingReward() {
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("50")))
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.Stake(bob, apple, d("20")))

	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("150")))
	pool := s.ledger.QueryStake(apple)
	// (150 + 50 pending) / 40 staked
	s.Require().True(pool.RewardIndex.Equal(d("5")))
	s.Require().True(pool.PendingReward.IsZero())

	item := s.ledger.QueryUserStakingItem(alice, apple)
	s.Require().True(item.AccruedReward.Equal(d("100")))
	s.Require().True(item.SettledReward.IsZero())
}

func (s *StakingTestSuite) TestRewardSplitsByStakeWeight() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.Stake(bob, apple, d("10")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("150")))

	aliceItem := s.ledger.QueryUserStakingItem(alice, apple)
	bobItem := s.ledger.QueryUserStakingItem(bob, apple)
	s.Require().True(aliceItem.AccruedReward.Equal(d("100")))
	s.Require().True(bobItem.AccruedReward.Equal(d("50")))

	// nothing minted or lost: accruals plus pending add up to the deposit
	pool := s.ledger.QueryStake(apple)
	total := aliceItem.AccruedReward.Add(bobItem.AccruedReward).Add(pool.PendingReward)
	s.Require().True(total.Equal(d("150")))
	s.Require().True(s.tokens.BalanceOf(kala, custody).Equal(d("150")))
}

func (s *StakingTestSuite) TestLateStakerEarnsNothingFromEarlierRewards() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))
	s.Require().NoError(s.ledger.Stake(bob, apple, d("20")))

	s.Require().True(s.ledger.QueryUserStakingItem(alice, apple).AccruedReward.Equal(d("100")))
	s.Require().True(s.ledger.QueryUserStakingItem(bob, apple).AccruedReward.IsZero())

	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("80")))
	s.Require().True(s.ledger.QueryUserStakingItem(alice, apple).AccruedReward.Equal(d("140")))
	s.Require().True(s.ledger.QueryUserStakingItem(bob, apple).AccruedReward.Equal(d("40")))
}

func (s *StakingTestSuite) TestRestakeSettlesAccrualIntoCarry() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))

	s.Require().NoError(s.ledger.Stake(alice, apple, d("10")))
	item := s.ledger.QueryUserStakingItem(alice, apple)
	s.Require().True(item.StakingAmount.Equal(d("30")))
	s.Require().True(item.AccruedReward.IsZero())
	s.Require().True(item.SettledReward.Equal(d("100")))

	// the carry is not diluted by the larger stake
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("60")))
	item = s.ledger.QueryUserStakingItem(alice, apple)
	s.Require().True(item.AccruedReward.Equal(d("60")))
	s.Require().True(item.SettledReward.Equal(d("100")))
}

func (s *StakingTestSuite) TestClaimPaysFullRewardWithoutGating() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))

	paid, err := s.ledger.Claim(alice, apple)
	s.Require().NoError(err)
	s.Require().True(paid.Equal(d("100")))
	s.Require().True(s.tokens.BalanceOf(kala, alice).Equal(d("100")))

	_, err = s.ledger.Claim(alice, apple)
	s.Require().True(errors.Is(err, ErrNothingToClaim))
}

func (s *StakingTestSuite) TestClaimGatedByCollateralLock() {
	s.Require().NoError(s.ledger.UpdateCollateralAssetMapping(admin,
		[]common.Address{apple}, []common.Address{busd}))
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))

	// no collateral deposited: everything is locked
	_, err := s.ledger.Claim(alice, apple)
	s.Require().True(errors.Is(err, ErrRewardLocked))

	s.Require().NoError(s.lock.Deposit(alice, busd, d("300")))
	s.clock.AdvanceBlocks(2)
	// unlocked = 300 * 0.1 * 2 = 60, owed = 100
	item := s.ledger.QueryUserStakingItem(alice, apple)
	s.Require().True(item.ClaimableReward.Equal(d("60")))

	paid, err := s.ledger.Claim(alice, apple)
	s.Require().NoError(err)
	s.Require().True(paid.Equal(d("60")))
	s.Require().True(s.tokens.BalanceOf(kala, alice).Equal(d("60")))
	// the allowance is consumed and the remainder stays owed
	s.Require().True(s.lock.QueryUnlockedAmount(alice, busd).IsZero())
	s.Require().True(s.ledger.QueryUserStakingItem(alice, apple).SettledReward.Equal(d("40")))

	s.clock.AdvanceBlocks(1)
	paid, err = s.ledger.Claim(alice, apple)
	s.Require().NoError(err)
	s.Require().True(paid.Equal(d("30")))
}

func (s *StakingTestSuite) TestClaimIntervalBlocksEarlyClaims() {
	s.Require().NoError(s.ledger.UpdateClaimIntervals(admin,
		[]common.Address{apple}, []int64{3600}))
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))

	_, err := s.ledger.Claim(alice, apple)
	s.Require().NoError(err)

	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))
	s.clock.AdvanceTime(600)
	_, err = s.ledger.Claim(alice, apple)
	s.Require().True(errors.Is(err, ErrClaimTooSoon))

	s.clock.AdvanceTime(3000)
	paid, err := s.ledger.Claim(alice, apple)
	s.Require().NoError(err)
	s.Require().True(paid.Equal(d("100")))
}

func (s *StakingTestSuite) TestDepositRewardAuthorization() {
	err := s.ledger.DepositReward(alice, apple, d("10"))
	s.Require().True(errors.Is(err, ErrUnauthorized))

	err = s.ledger.DepositReward(factory, busd, d("10"))
	s.Require().True(errors.Is(err, ErrAssetNotRegistered))
}

func (s *StakingTestSuite) TestSnapshotRestore() {
	s.Require().NoError(s.ledger.Stake(alice, apple, d("20")))
	s.Require().NoError(s.ledger.DepositReward(factory, apple, d("100")))
	s.Require().NoError(s.ledger.UpdateCollateralAssetMapping(admin,
		[]common.Address{apple}, []common.Address{busd}))
	s.Require().NoError(s.ledger.UpdateClaimIntervals(admin,
		[]common.Address{apple}, []int64{3600}))

	pools, stakers := s.ledger.Snapshot()
	s.Require().Len(pools, 1)
	s.Require().Len(stakers, 1)
	s.Require().Equal(busd, pools[0].CollateralAsset)
	s.Require().Equal(int64(3600), pools[0].ClaimInterval)

	restored := NewLedger(admin, custody, Config{
		Factory:     factory,
		RewardToken: kala,
	}, s.clock, s.tokens, s.lock)
	restored.Restore(pools, stakers)

	s.Require().True(restored.QueryStake(apple).TotalStaked.Equal(d("20")))
	item := restored.QueryUserStakingItem(alice, apple)
	s.Require().True(item.StakingAmount.Equal(d("20")))
	s.Require().True(item.AccruedReward.Equal(d("100")))
	// gating config survives the round trip
	s.Require().Equal(busd, restored.QueryCollateralAssetMapping()[apple])
	s.Require().NoError(s.lock.Deposit(alice, busd, d("500")))
	s.clock.AdvanceBlocks(2)
	paid, err := restored.Claim(alice, apple)
	s.Require().NoError(err)
	s.Require().True(paid.Equal(d("100")))
	s.clock.AdvanceTime(60)
	_, err = restored.Claim(alice, apple)
	s.Require().True(errors.Is(err, ErrClaimTooSoon))
}

func TestStakingTestSuite(t *testing.T) {
	suite.Run(t, new(StakingTestSuite))
}

func TestSelfStakingAsset(t *testing.T) {
	clock := chain.NewManual(1, 0)
	tokens := token.NewLedger(admin)
	require.NoError(t, tokens.RegisterMinter(admin, admin, true))
	require.NoError(t, tokens.Mint(admin, apple, alice, d("100")))

	ledger := NewLedger(admin, custody, Config{Factory: factory, RewardToken: kala},
		clock, tokens, nil)
	require.NoError(t, ledger.RegisterAsset(admin, apple, common.Address{}))

	require.NoError(t, ledger.Stake(alice, apple, d("40")))
	require.True(t, tokens.BalanceOf(apple, custody).Equal(d("40")))
	require.True(t, tokens.BalanceOf(apple, alice).Equal(d("60")))
}
