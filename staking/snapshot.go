package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PoolRecord is the flat form of one reward pool for persistence. The
// gating collateral asset and claim interval ride along so the maps survive
// a restart; a zero CollateralAsset means ungated.
type PoolRecord struct {
	Asset           common.Address
	StakingToken    common.Address
	TotalStaked     decimal.Decimal
	RewardIndex     decimal.Decimal
	PendingReward   decimal.Decimal
	RegisteredAt    int64
	CollateralAsset common.Address
	ClaimInterval   int64
}

// StakerRecord is the flat form of one staker position for persistence.
type StakerRecord struct {
	Account       common.Address
	Asset         common.Address
	StakingAmount decimal.Decimal
	RewardIndex   decimal.Decimal
	Settled       decimal.Decimal
	LastClaim     int64
}

// Snapshot returns all pools and staker positions.
func (l *Ledger) Snapshot() ([]PoolRecord, []StakerRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pools := make([]PoolRecord, 0, len(l.pools))
	for asset, pool := range l.pools {
		pools = append(pools, PoolRecord{
			Asset:           asset,
			StakingToken:    pool.StakingToken,
			TotalStaked:     pool.TotalStaked,
			RewardIndex:     pool.RewardIndex,
			PendingReward:   pool.PendingReward,
			RegisteredAt:    pool.RegisteredAt,
			CollateralAsset: l.collateralMap[asset],
			ClaimInterval:   l.claimIntervals[asset],
		})
	}
	stakers := make([]StakerRecord, 0, len(l.stakers))
	for key, st := range l.stakers {
		stakers = append(stakers, StakerRecord{
			Account:       key.account,
			Asset:         key.asset,
			StakingAmount: st.stakingAmount,
			RewardIndex:   st.rewardIndex,
			Settled:       st.settled,
			LastClaim:     st.lastClaim,
		})
	}
	return pools, stakers
}

// Restore replaces the ledger state with the given records.
func (l *Ledger) Restore(pools []PoolRecord, stakers []StakerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pools = make(map[common.Address]*Pool, len(pools))
	l.collateralMap = make(map[common.Address]common.Address)
	l.claimIntervals = make(map[common.Address]int64)
	for _, r := range pools {
		l.pools[r.Asset] = &Pool{
			StakingToken:  r.StakingToken,
			TotalStaked:   r.TotalStaked,
			RewardIndex:   r.RewardIndex,
			PendingReward: r.PendingReward,
			RegisteredAt:  r.RegisteredAt,
		}
		if r.CollateralAsset != (common.Address{}) {
			l.collateralMap[r.Asset] = r.CollateralAsset
		}
		if r.ClaimInterval != 0 {
			l.claimIntervals[r.Asset] = r.ClaimInterval
		}
	}
	l.stakers = make(map[stakerKey]*staker, len(stakers))
	for _, r := range stakers {
		l.stakers[stakerKey{r.Account, r.Asset}] = &staker{
			stakingAmount: r.StakingAmount,
			rewardIndex:   r.RewardIndex,
			settled:       r.Settled,
			lastClaim:     r.LastClaim,
		}
	}
}
