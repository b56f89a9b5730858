// Package snapshot mirrors the in-memory engine state into postgres and
// restores it on boot, so the ledger survives restarts and external tools
// (the auditor, liquidation bots' offline analysis) can read a consistent
// copy.
package snapshot

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synthlabs/synth-ledger/collateral"
	"github.com/synthlabs/synth-ledger/common/logging"
	database "github.com/synthlabs/synth-ledger/database/db"
	"github.com/synthlabs/synth-ledger/database/models/synth"
	"github.com/synthlabs/synth-ledger/mint"
	"github.com/synthlabs/synth-ledger/oracle"
	"github.com/synthlabs/synth-ledger/staking"
)

// Engines bundles everything the snapshotter mirrors.
type Engines struct {
	Mint       *mint.Ledger
	Collateral *collateral.Ledger
	Staking    *staking.Ledger
	Oracle     *oracle.Oracle
}

type Snapshotter struct {
	ctx      context.Context
	logger   logging.Logger
	db       *gorm.DB
	engines  Engines
	interval time.Duration
}

func NewSnapshotter(ctx context.Context, logger logging.Logger, db *gorm.DB,
	engines Engines, interval time.Duration) *Snapshotter {
	return &Snapshotter{
		ctx:      ctx,
		logger:   logger,
		db:       db,
		engines:  engines,
		interval: interval,
	}
}

// Run saves a snapshot every interval until the context is cancelled.
func (s *Snapshotter) Run() error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("snapshotter stopped")
			return s.ctx.Err()
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Warn("snapshot save failed: %s", err)
			}
		}
	}
}

// Save writes the full engine state in one transaction.
func (s *Snapshotter) Save() error {
	start := time.Now()
	positions, assets := s.engines.Mint.Snapshot()
	deposits := s.engines.Collateral.Snapshot()
	speeds := s.engines.Collateral.SnapshotSpeeds()
	pools, stakers := s.engines.Staking.Snapshot()
	feeds := s.engines.Oracle.Snapshot()

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		for _, pos := range positions {
			row := &synth.Position{
				ID:               pos.Index,
				Owner:            pos.Owner.Hex(),
				CollateralAsset:  pos.CollateralAsset.Hex(),
				CollateralAmount: pos.CollateralAmount,
				SyntheticAsset:   pos.SyntheticAsset.Hex(),
				SyntheticAmount:  pos.SyntheticAmount,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, a := range assets {
			row := &synth.AssetConfig{
				Asset:              a.Asset.Hex(),
				AuctionDiscount:    a.AuctionDiscount,
				MinCollateralRatio: a.MinCollateralRatio,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "asset"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, d := range deposits {
			row := &synth.Deposit{
				Account:  d.Account.Hex(),
				Asset:    d.Asset.Hex(),
				Amount:   d.Amount,
				Block:    d.Block,
				Floor:    d.Floor,
				Consumed: d.Consumed,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account"}, {Name: "asset"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, sp := range speeds {
			row := &synth.UnlockSpeed{
				Asset:       sp.Asset.Hex(),
				UnlockSpeed: sp.UnlockSpeed,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "asset"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, p := range pools {
			row := &synth.StakePool{
				Asset:           p.Asset.Hex(),
				StakingToken:    p.StakingToken.Hex(),
				TotalStaked:     p.TotalStaked,
				RewardIndex:     p.RewardIndex,
				PendingReward:   p.PendingReward,
				RegisteredAt:    p.RegisteredAt,
				CollateralAsset: p.CollateralAsset.Hex(),
				ClaimInterval:   p.ClaimInterval,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "asset"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, st := range stakers {
			row := &synth.StakerPosition{
				Account:       st.Account.Hex(),
				Asset:         st.Asset.Hex(),
				StakingAmount: st.StakingAmount,
				RewardIndex:   st.RewardIndex,
				Settled:       st.Settled,
				LastClaim:     st.LastClaim,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account"}, {Name: "asset"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, f := range feeds {
			row := &synth.PriceFeed{
				Asset:        f.Asset.Hex(),
				Feeder:       f.Feeder.Hex(),
				Price:        f.Price,
				UpdatedAtSec: f.UpdatedAt,
				Fed:          f.Fed,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "asset"}},
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("snapshot saved positions=%d deposits=%d pools=%d stakers=%d elapsed=%s",
		len(positions), len(deposits), len(pools), len(stakers), time.Since(start))
	return nil
}

// Restore loads the mirrored state back into the engines. Call once before
// serving.
func (s *Snapshotter) Restore() error {
	var rows []synth.Position
	if err := s.db.Find(&rows).Error; err != nil {
		return err
	}
	var assetRows []synth.AssetConfig
	if err := s.db.Find(&assetRows).Error; err != nil {
		return err
	}
	positions := make([]mint.Position, len(rows))
	for i, r := range rows {
		positions[i] = mint.Position{
			Index:            r.ID,
			Owner:            common.HexToAddress(r.Owner),
			CollateralAsset:  common.HexToAddress(r.CollateralAsset),
			CollateralAmount: r.CollateralAmount,
			SyntheticAsset:   common.HexToAddress(r.SyntheticAsset),
			SyntheticAmount:  r.SyntheticAmount,
		}
	}
	assets := make([]mint.AssetRecord, len(assetRows))
	for i, r := range assetRows {
		assets[i] = mint.AssetRecord{
			Asset:              common.HexToAddress(r.Asset),
			AuctionDiscount:    r.AuctionDiscount,
			MinCollateralRatio: r.MinCollateralRatio,
		}
	}
	s.engines.Mint.Restore(positions, assets)

	var depositRows []synth.Deposit
	if err := s.db.Find(&depositRows).Error; err != nil {
		return err
	}
	deposits := make([]collateral.DepositRecord, len(depositRows))
	for i, r := range depositRows {
		deposits[i] = collateral.DepositRecord{
			Account:  common.HexToAddress(r.Account),
			Asset:    common.HexToAddress(r.Asset),
			Amount:   r.Amount,
			Block:    r.Block,
			Floor:    r.Floor,
			Consumed: r.Consumed,
		}
	}
	s.engines.Collateral.Restore(deposits)

	var speedRows []synth.UnlockSpeed
	if err := s.db.Find(&speedRows).Error; err != nil {
		return err
	}
	speeds := make([]collateral.SpeedRecord, len(speedRows))
	for i, r := range speedRows {
		speeds[i] = collateral.SpeedRecord{
			Asset:       common.HexToAddress(r.Asset),
			UnlockSpeed: r.UnlockSpeed,
		}
	}
	s.engines.Collateral.RestoreSpeeds(speeds)

	var poolRows []synth.StakePool
	if err := s.db.Find(&poolRows).Error; err != nil {
		return err
	}
	var stakerRows []synth.StakerPosition
	if err := s.db.Find(&stakerRows).Error; err != nil {
		return err
	}
	pools := make([]staking.PoolRecord, len(poolRows))
	for i, r := range poolRows {
		pools[i] = staking.PoolRecord{
			Asset:           common.HexToAddress(r.Asset),
			StakingToken:    common.HexToAddress(r.StakingToken),
			TotalStaked:     r.TotalStaked,
			RewardIndex:     r.RewardIndex,
			PendingReward:   r.PendingReward,
			RegisteredAt:    r.RegisteredAt,
			CollateralAsset: common.HexToAddress(r.CollateralAsset),
			ClaimInterval:   r.ClaimInterval,
		}
	}
	stakers := make([]staking.StakerRecord, len(stakerRows))
	for i, r := range stakerRows {
		stakers[i] = staking.StakerRecord{
			Account:       common.HexToAddress(r.Account),
			Asset:         common.HexToAddress(r.Asset),
			StakingAmount: r.StakingAmount,
			RewardIndex:   r.RewardIndex,
			Settled:       r.Settled,
			LastClaim:     r.LastClaim,
		}
	}
	s.engines.Staking.Restore(pools, stakers)

	var feedRows []synth.PriceFeed
	if err := s.db.Find(&feedRows).Error; err != nil {
		return err
	}
	feeds := make([]oracle.FeedRecord, len(feedRows))
	for i, r := range feedRows {
		feeds[i] = oracle.FeedRecord{
			Asset:     common.HexToAddress(r.Asset),
			Feeder:    common.HexToAddress(r.Feeder),
			Price:     r.Price,
			UpdatedAt: r.UpdatedAtSec,
			Fed:       r.Fed,
		}
	}
	s.engines.Oracle.Restore(feeds)

	s.logger.Info("snapshot restored positions=%d deposits=%d pools=%d stakers=%d feeds=%d",
		len(positions), len(deposits), len(pools), len(stakers), len(feeds))
	return nil
}
