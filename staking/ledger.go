// Package staking implements the indexed reward pools. Reward deposits move
// a cumulative per-unit index forward in O(1) regardless of staker count;
// each staker settles against the index before any stake mutation, and claims
// can be gated through the collateral lock's unlocked allowance.
package staking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/synthlabs/synth-ledger/chain"
	"github.com/synthlabs/synth-ledger/common/fixedmath"
	"github.com/synthlabs/synth-ledger/token"
)

var (
	ErrUnauthorized         = errors.New("staking: caller is not authorized")
	ErrAssetNotRegistered   = errors.New("staking: asset is not registered")
	ErrAlreadyRegistered    = errors.New("staking: asset is already registered")
	ErrInvalidAmount        = errors.New("staking: amount must be positive")
	ErrInsufficientStake    = errors.New("staking: unstake exceeds staked amount")
	ErrNothingStaked        = errors.New("staking: account has nothing staked")
	ErrNothingToClaim       = errors.New("staking: no claimable reward")
	ErrRewardLocked         = errors.New("staking: reward is locked by the collateral lock")
	ErrClaimTooSoon         = errors.New("staking: claim interval has not elapsed")
	ErrConfigLengthMismatch = errors.New("staking: config slices length mismatch")
)

// CollateralLock is the slice of the collateral ledger the staking ledger
// needs for reward gating.
type CollateralLock interface {
	QueryUnlockedAmount(account, asset common.Address) decimal.Decimal
	ReduceUnlockedAmount(caller, account, asset common.Address, amount decimal.Decimal) error
}

// Config holds the staking ledger wiring.
type Config struct {
	// Factory is the emission source allowed to deposit rewards.
	Factory common.Address
	// RewardToken is the token rewards are paid in.
	RewardToken common.Address
}

// Pool is one asset's reward pool.
type Pool struct {
	// StakingToken is what stakers deposit. The zero address means the
	// asset stakes itself.
	StakingToken  common.Address
	TotalStaked   decimal.Decimal
	RewardIndex   decimal.Decimal
	PendingReward decimal.Decimal
	RegisteredAt  int64
}

type stakerKey struct {
	account common.Address
	asset   common.Address
}

type staker struct {
	stakingAmount decimal.Decimal
	rewardIndex   decimal.Decimal // pool index at last settlement
	settled       decimal.Decimal // settled but unclaimed reward
	lastClaim     int64
}

// Ledger is the staking ledger.
type Ledger struct {
	mu      sync.RWMutex
	owner   common.Address
	custody common.Address
	cfg     Config
	clock   chain.Clock
	tokens  *token.Ledger
	lock    CollateralLock

	pools          map[common.Address]*Pool
	stakers        map[stakerKey]*staker
	collateralMap  map[common.Address]common.Address
	claimIntervals map[common.Address]int64
}

// NewLedger returns an empty staking ledger.
func NewLedger(owner, custody common.Address, cfg Config, clock chain.Clock,
	tokens *token.Ledger, lock CollateralLock) *Ledger {
	return &Ledger{
		owner:          owner,
		custody:        custody,
		cfg:            cfg,
		clock:          clock,
		tokens:         tokens,
		lock:           lock,
		pools:          make(map[common.Address]*Pool),
		stakers:        make(map[stakerKey]*staker),
		collateralMap:  make(map[common.Address]common.Address),
		claimIntervals: make(map[common.Address]int64),
	}
}

// UpdateConfig replaces the factory and reward token wiring. Owner only.
func (l *Ledger) UpdateConfig(caller common.Address, cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	l.cfg = cfg
	return nil
}

// QueryConfig returns the current wiring.
func (l *Ledger) QueryConfig() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// TransferOwnership hands the admin role to a new owner. Owner only.
func (l *Ledger) TransferOwnership(caller, newOwner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	l.owner = newOwner
	return nil
}

// RegisterAsset opens a reward pool for asset. A zero staking token means
// single-asset staking. Factory or owner only.
func (l *Ledger) RegisterAsset(caller, asset, stakingToken common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner && caller != l.cfg.Factory {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if _, ok := l.pools[asset]; ok {
		return fmt.Errorf("%w: asset=%s", ErrAlreadyRegistered, asset.Hex())
	}
	l.pools[asset] = &Pool{
		StakingToken: stakingToken,
		RegisteredAt: l.clock.Now(),
	}
	return nil
}

// UpdateCollateralAssetMapping sets which collateral asset gates reward
// release per staking asset. Owner only.
func (l *Ledger) UpdateCollateralAssetMapping(caller common.Address,
	assets, collateralAssets []common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if len(assets) != len(collateralAssets) {
		return fmt.Errorf("%w: assets=%d collaterals=%d", ErrConfigLengthMismatch,
			len(assets), len(collateralAssets))
	}
	for i, asset := range assets {
		l.collateralMap[asset] = collateralAssets[i]
	}
	return nil
}

// QueryCollateralAssetMapping returns the reward-gating map.
func (l *Ledger) QueryCollateralAssetMapping() map[common.Address]common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]common.Address, len(l.collateralMap))
	for k, v := range l.collateralMap {
		out[k] = v
	}
	return out
}

// UpdateClaimIntervals sets the per-asset minimum seconds between claims.
// Owner only.
func (l *Ledger) UpdateClaimIntervals(caller common.Address,
	assets []common.Address, intervals []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if len(assets) != len(intervals) {
		return fmt.Errorf("%w: assets=%d intervals=%d", ErrConfigLengthMismatch,
			len(assets), len(intervals))
	}
	for i, asset := range assets {
		l.claimIntervals[asset] = intervals[i]
	}
	return nil
}

// Stake locks amount of the pool's staking token for the caller. The
// caller's pending reward is settled against the index before the stake
// amount changes.
func (l *Ledger) Stake(caller, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[asset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, asset.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if err := l.tokens.Transfer(caller, stakingTokenOf(pool, asset), l.custody, amount); err != nil {
		return err
	}
	st := l.stakerOf(caller, asset)
	l.settle(pool, st)
	st.stakingAmount = st.stakingAmount.Add(amount)
	pool.TotalStaked = pool.TotalStaked.Add(amount)
	return nil
}

// UnStake releases amount of the caller's staked tokens, settling first.
func (l *Ledger) UnStake(caller, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[asset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, asset.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	st, ok := l.stakers[stakerKey{caller, asset}]
	if !ok || st.stakingAmount.LessThan(amount) {
		var have decimal.Decimal
		if ok {
			have = st.stakingAmount
		}
		return fmt.Errorf("%w: account=%s asset=%s staked=%s amount=%s",
			ErrInsufficientStake, caller.Hex(), asset.Hex(), have, amount)
	}
	if err := l.tokens.Transfer(l.custody, stakingTokenOf(pool, asset), caller, amount); err != nil {
		return err
	}
	l.settle(pool, st)
	st.stakingAmount = st.stakingAmount.Sub(amount)
	pool.TotalStaked = pool.TotalStaked.Sub(amount)
	return nil
}

// DepositReward adds amount of the reward token to the pool. With no stake
// outstanding the reward parks in PendingReward; otherwise the pending carry
// folds into the per-unit index together with the new deposit. Factory or
// owner only.
func (l *Ledger) DepositReward(caller, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner && caller != l.cfg.Factory {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	pool, ok := l.pools[asset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, asset.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if err := l.tokens.Transfer(caller, l.cfg.RewardToken, l.custody, amount); err != nil {
		return err
	}
	if pool.TotalStaked.IsZero() {
		pool.PendingReward = pool.PendingReward.Add(amount)
		return nil
	}
	distributed := amount.Add(pool.PendingReward)
	pool.RewardIndex = pool.RewardIndex.Add(fixedmath.DivFloor(distributed, pool.TotalStaked))
	pool.PendingReward = decimal.Zero
	return nil
}

// Claim pays out the caller's settled reward for asset. When a collateral
// mapping exists the payout is capped by the caller's unlocked amount and
// that allowance is consumed; the unpaid remainder stays as carry.
func (l *Ledger) Claim(caller, asset common.Address) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, asset.Hex())
	}
	st, ok := l.stakers[stakerKey{caller, asset}]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account=%s asset=%s", ErrNothingStaked,
			caller.Hex(), asset.Hex())
	}
	if interval := l.claimIntervals[asset]; interval > 0 && st.lastClaim > 0 {
		if elapsed := l.clock.Now() - st.lastClaim; elapsed < interval {
			return decimal.Zero, fmt.Errorf("%w: asset=%s elapsed=%d interval=%d",
				ErrClaimTooSoon, asset.Hex(), elapsed, interval)
		}
	}
	l.settle(pool, st)
	owed := st.settled
	if !owed.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: account=%s asset=%s", ErrNothingToClaim,
			caller.Hex(), asset.Hex())
	}
	payout := owed
	if gate, gated := l.collateralMap[asset]; gated {
		unlocked := l.lock.QueryUnlockedAmount(caller, gate)
		payout = fixedmath.Min(owed, unlocked)
		if !payout.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: account=%s asset=%s owed=%s unlocked=%s",
				ErrRewardLocked, caller.Hex(), asset.Hex(), owed, unlocked)
		}
		if err := l.lock.ReduceUnlockedAmount(l.custody, caller, gate, payout); err != nil {
			return decimal.Zero, err
		}
	}
	if err := l.tokens.Transfer(l.custody, l.cfg.RewardToken, caller, payout); err != nil {
		return decimal.Zero, err
	}
	st.settled = owed.Sub(payout)
	st.lastClaim = l.clock.Now()
	return payout, nil
}

// QueryStake returns a copy of the asset's pool. The zero Pool is returned
// for unregistered assets.
func (l *Ledger) QueryStake(asset common.Address) Pool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[asset]
	if !ok {
		return Pool{}
	}
	return *pool
}

// StakingItem is the read model of one staker's position.
type StakingItem struct {
	StakingAmount decimal.Decimal
	// AccruedReward is earned since the last settlement.
	AccruedReward decimal.Decimal
	// SettledReward is settled but not yet claimed.
	SettledReward decimal.Decimal
	// ClaimableReward is what Claim would pay out right now, after
	// collateral-lock gating.
	ClaimableReward decimal.Decimal
	LastClaim       int64
}

// QueryUserStakingItem returns the staker's view on one asset.
func (l *Ledger) QueryUserStakingItem(account, asset common.Address) StakingItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[asset]
	if !ok {
		return StakingItem{}
	}
	st, ok := l.stakers[stakerKey{account, asset}]
	if !ok {
		return StakingItem{}
	}
	accrued := fixedmath.MulFloor(st.stakingAmount, pool.RewardIndex.Sub(st.rewardIndex))
	claimable := st.settled.Add(accrued)
	if gate, gated := l.collateralMap[asset]; gated {
		claimable = fixedmath.Min(claimable, l.lock.QueryUnlockedAmount(account, gate))
	}
	return StakingItem{
		StakingAmount:   st.stakingAmount,
		AccruedReward:   accrued,
		SettledReward:   st.settled,
		ClaimableReward: claimable,
		LastClaim:       st.lastClaim,
	}
}

// settle moves the staker's accrual into the settled carry and snapshots the
// pool index. Must run before any stake mutation.
func (l *Ledger) settle(pool *Pool, st *staker) {
	accrued := fixedmath.MulFloor(st.stakingAmount, pool.RewardIndex.Sub(st.rewardIndex))
	st.settled = st.settled.Add(accrued)
	st.rewardIndex = pool.RewardIndex
}

func (l *Ledger) stakerOf(account, asset common.Address) *staker {
	key := stakerKey{account, asset}
	st, ok := l.stakers[key]
	if !ok {
		st = &staker{}
		l.stakers[key] = st
	}
	return st
}

func stakingTokenOf(pool *Pool, asset common.Address) common.Address {
	if pool.StakingToken == (common.Address{}) {
		return asset
	}
	return pool.StakingToken
}
