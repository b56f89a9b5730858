package synth

import (
	"github.com/shopspring/decimal"

	"github.com/synthlabs/synth-ledger/database/models"
)

// Position mirrors one collateralized debt position.
type Position struct {
	ID               uint64          `gorm:"column:id;primary_key;not null" json:"id"`
	Owner            string          `gorm:"column:owner;type:varchar(64);not null" json:"owner"`
	CollateralAsset  string          `gorm:"column:collateral_asset;type:varchar(64);not null" json:"collateral_asset"`
	CollateralAmount decimal.Decimal `gorm:"column:collateral_amount;type:decimal(38,18);not null" json:"collateral_amount"`
	SyntheticAsset   string          `gorm:"column:synthetic_asset;type:varchar(64);not null" json:"synthetic_asset"`
	SyntheticAmount  decimal.Decimal `gorm:"column:synthetic_amount;type:decimal(38,18);not null" json:"synthetic_amount"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*Position) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*Position) Indexes() []models.CustomIndex {
	return []models.CustomIndex{
		{
			Name:   "position_owner_idx",
			Fields: []string{"owner"},
		},
		{
			Name:   "position_synthetic_asset_idx",
			Fields: []string{"synthetic_asset"},
		},
	}
}

// AssetConfig mirrors one synthetic asset's risk configuration.
type AssetConfig struct {
	Asset              string          `gorm:"column:asset;type:varchar(64);primary_key;not null" json:"asset"`
	AuctionDiscount    decimal.Decimal `gorm:"column:auction_discount;type:decimal(38,18);not null" json:"auction_discount"`
	MinCollateralRatio decimal.Decimal `gorm:"column:min_collateral_ratio;type:decimal(38,18);not null" json:"min_collateral_ratio"`

	models.Base
}

// ForeignKeyConstraints create foreign key constraints.
func (*AssetConfig) ForeignKeyConstraints() []models.ForeignKeyConstraint {
	return nil
}

// Indexes returns information to create index.
func (*AssetConfig) Indexes() []models.CustomIndex {
	return nil
}
