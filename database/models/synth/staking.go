package synth

import (
	"github.com/shopspring/decimal"

	"github.com/synthlabs/synth-ledger/database/models"
)

// Deposit mirrors one collateral-lock deposit record.
type Deposit struct {
	Account  string          `gorm:"column:account;type:varchar(64);primary_key;not null" json:"account"`
	Asset    string          `gorm:"column:asset;type:varchar(64);primary_key;not null" json:"asset"`
	Amount   decimal.Decimal `gorm:"column:amount;type:decimal(38,18);not null" json:"amount"`
	Block    int64           `gorm:"column:block;type:bigint;not null" json:"block"`
	Floor    decimal.Decimal `gorm:"column:floor;type:decimal(38,18);not null" json:"floor"`
	Consumed decimal.Decimal `gorm:"column:consumed;type:decimal(38,18);not null" json:"consumed"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*Deposit) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*Deposit) Indexes() []models.CustomIndex {
	return nil
}

// StakePool mirrors one reward pool plus its gating config.
type StakePool struct {
	Asset           string          `gorm:"column:asset;type:varchar(64);primary_key;not null" json:"asset"`
	StakingToken    string          `gorm:"column:staking_token;type:varchar(64);not null" json:"staking_token"`
	TotalStaked     decimal.Decimal `gorm:"column:total_staked;type:decimal(38,18);not null" json:"total_staked"`
	RewardIndex     decimal.Decimal `gorm:"column:reward_index;type:decimal(38,18);not null" json:"reward_index"`
	PendingReward   decimal.Decimal `gorm:"column:pending_reward;type:decimal(38,18);not null" json:"pending_reward"`
	RegisteredAt    int64           `gorm:"column:registered_at;type:bigint;not null" json:"registered_at"`
	CollateralAsset string          `gorm:"column:collateral_asset;type:varchar(64);not null" json:"collateral_asset"`
	ClaimInterval   int64           `gorm:"column:claim_interval;type:bigint;not null" json:"claim_interval"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*StakePool) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*StakePool) Indexes() []models.CustomIndex {
	return nil
}

// StakerPosition mirrors one staker's pool position.
type StakerPosition struct {
	Account       string          `gorm:"column:account;type:varchar(64);primary_key;not null" json:"account"`
	Asset         string          `gorm:"column:asset;type:varchar(64);primary_key;not null" json:"asset"`
	StakingAmount decimal.Decimal `gorm:"column:staking_amount;type:decimal(38,18);not null" json:"staking_amount"`
	RewardIndex   decimal.Decimal `gorm:"column:reward_index;type:decimal(38,18);not null" json:"reward_index"`
	Settled       decimal.Decimal `gorm:"column:settled;type:decimal(38,18);not null" json:"settled"`
	LastClaim     int64           `gorm:"column:last_claim;type:bigint;not null" json:"last_claim"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*StakerPosition) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*StakerPosition) Indexes() []models.CustomIndex {
	return []models.CustomIndex{
		{
			Name:   "staker_position_asset_idx",
			Fields: []string{"asset"},
		},
	}
}

// UnlockSpeed mirrors the collateral lock's unlock speed per asset.
type UnlockSpeed struct {
	Asset       string          `gorm:"column:asset;type:varchar(64);primary_key;not null" json:"asset"`
	UnlockSpeed decimal.Decimal `gorm:"column:unlock_speed;type:decimal(38,18);not null" json:"unlock_speed"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*UnlockSpeed) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*UnlockSpeed) Indexes() []models.CustomIndex {
	return nil
}

// PriceFeed mirrors the latest oracle feed per asset.
type PriceFeed struct {
	Asset        string          `gorm:"column:asset;type:varchar(64);primary_key;not null" json:"asset"`
	Feeder       string          `gorm:"column:feeder;type:varchar(64);not null" json:"feeder"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(38,18);not null" json:"price"`
	UpdatedAtSec int64           `gorm:"column:updated_at_sec;type:bigint;not null" json:"updated_at_sec"`
	Fed          bool            `gorm:"column:fed;not null" json:"fed"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*PriceFeed) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*PriceFeed) Indexes() []models.CustomIndex {
	return nil
}
