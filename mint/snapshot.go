package mint

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AssetRecord is the flat form of one asset config for persistence.
type AssetRecord struct {
	Asset              common.Address
	AuctionDiscount    decimal.Decimal
	MinCollateralRatio decimal.Decimal
}

// Snapshot returns all positions and asset configs.
func (l *Ledger) Snapshot() ([]Position, []AssetRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	positions := make([]Position, 0, len(l.positions))
	for index := uint64(1); index < l.nextIndex; index++ {
		if pos, ok := l.positions[index]; ok {
			positions = append(positions, *pos)
		}
	}
	assets := make([]AssetRecord, 0, len(l.assets))
	for asset, cfg := range l.assets {
		assets = append(assets, AssetRecord{
			Asset:              asset,
			AuctionDiscount:    cfg.AuctionDiscount,
			MinCollateralRatio: cfg.MinCollateralRatio,
		})
	}
	return positions, assets
}

// Restore replaces the ledger state with the given records.
func (l *Ledger) Restore(positions []Position, assets []AssetRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[uint64]*Position, len(positions))
	l.byTriple = make(map[positionKey]uint64, len(positions))
	l.nextIndex = 1
	for _, pos := range positions {
		p := pos
		l.positions[p.Index] = &p
		l.byTriple[positionKey{p.Owner, p.CollateralAsset, p.SyntheticAsset}] = p.Index
		if p.Index >= l.nextIndex {
			l.nextIndex = p.Index + 1
		}
	}
	l.assets = make(map[common.Address]AssetConfig, len(assets))
	for _, a := range assets {
		l.assets[a.Asset] = AssetConfig{
			AuctionDiscount:    a.AuctionDiscount,
			MinCollateralRatio: a.MinCollateralRatio,
		}
	}
}
