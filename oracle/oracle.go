// Package oracle keeps the latest fed price per registered asset. Feed
// aggregation and staleness policy live with the consumers; this component
// only records who may feed and when a price was last updated.
package oracle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/synthlabs/synth-ledger/chain"
	"github.com/synthlabs/synth-ledger/common/fixedmath"
)

var (
	ErrUnauthorized = errors.New("oracle: caller is not authorized")
	ErrUnknownAsset = errors.New("oracle: asset has no registered feed")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	ErrNoPriceYet   = errors.New("oracle: no price fed yet")
)

type feed struct {
	feeder    common.Address
	price     decimal.Decimal
	updatedAt int64
	fed       bool
}

// Oracle is the price registry.
type Oracle struct {
	mu    sync.RWMutex
	owner common.Address
	clock chain.Clock
	feeds map[common.Address]*feed
}

// New returns an empty oracle administered by owner.
func New(owner common.Address, clock chain.Clock) *Oracle {
	return &Oracle{
		owner: owner,
		clock: clock,
		feeds: make(map[common.Address]*feed),
	}
}

// TransferOwnership hands the admin role to a new owner. Owner only.
func (o *Oracle) TransferOwnership(caller, newOwner common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	o.owner = newOwner
	return nil
}

// RegisterAsset authorizes feeder to feed prices for asset. Owner only.
func (o *Oracle) RegisterAsset(caller, asset, feeder common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	o.feeds[asset] = &feed{feeder: feeder}
	return nil
}

// FeedPrice records a new price for asset. Registered feeder only.
func (o *Oracle) FeedPrice(caller, asset common.Address, price decimal.Decimal) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.feeds[asset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrUnknownAsset, asset.Hex())
	}
	if caller != f.feeder {
		return fmt.Errorf("%w: caller=%s asset=%s", ErrUnauthorized, caller.Hex(), asset.Hex())
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price=%s", ErrInvalidPrice, price)
	}
	f.price = price
	f.updatedAt = o.clock.Now()
	f.fed = true
	return nil
}

// QueryPrice returns the latest price of asset and its feed timestamp.
func (o *Oracle) QueryPrice(asset common.Address) (decimal.Decimal, int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f, ok := o.feeds[asset]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("%w: asset=%s", ErrUnknownAsset, asset.Hex())
	}
	if !f.fed {
		return decimal.Zero, 0, fmt.Errorf("%w: asset=%s", ErrNoPriceYet, asset.Hex())
	}
	return f.price, f.updatedAt, nil
}

// QueryPriceByDenominate returns price(assetA)/price(assetB) along with the
// older of the two feed timestamps.
func (o *Oracle) QueryPriceByDenominate(assetA, assetB common.Address) (decimal.Decimal, int64, error) {
	priceA, updatedA, err := o.QueryPrice(assetA)
	if err != nil {
		return decimal.Zero, 0, err
	}
	priceB, updatedB, err := o.QueryPrice(assetB)
	if err != nil {
		return decimal.Zero, 0, err
	}
	updated := updatedA
	if updatedB < updated {
		updated = updatedB
	}
	return fixedmath.DivFloor(priceA, priceB), updated, nil
}

// Snapshot returns a copy of all feeds for persistence.
func (o *Oracle) Snapshot() []FeedRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]FeedRecord, 0, len(o.feeds))
	for asset, f := range o.feeds {
		out = append(out, FeedRecord{
			Asset:     asset,
			Feeder:    f.feeder,
			Price:     f.price,
			UpdatedAt: f.updatedAt,
			Fed:       f.fed,
		})
	}
	return out
}

// Restore replaces the oracle state with previously snapshotted feeds.
func (o *Oracle) Restore(records []FeedRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feeds = make(map[common.Address]*feed, len(records))
	for _, r := range records {
		o.feeds[r.Asset] = &feed{
			feeder:    r.Feeder,
			price:     r.Price,
			updatedAt: r.UpdatedAt,
			fed:       r.Fed,
		}
	}
}

// FeedRecord is the persisted form of a price feed.
type FeedRecord struct {
	Asset     common.Address
	Feeder    common.Address
	Price     decimal.Decimal
	UpdatedAt int64
	Fed       bool
}
