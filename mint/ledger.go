// Package mint implements the collateralized position ledger: opening,
// adjusting, and partially auctioning synthetic-asset debt positions against
// oracle prices and per-asset collateral-ratio configuration.
package mint

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
	ErrUnauthorized                = errors.New("mint: caller is not authorized")
	ErrAssetNotRegistered          = errors.New("mint: asset is not registered")
	ErrInvalidAmount               = errors.New("mint: amount must be positive")
	ErrInvalidConfig               = errors.New("mint: invalid asset config")
	ErrRatioBelowMinimum           = errors.New("mint: collateral ratio below the asset minimum")
	ErrPositionNotFound            = errors.New("mint: position not found")
	ErrAssetMismatch               = errors.New("mint: asset does not match the position")
	ErrInsufficientCollateral      = errors.New("mint: post-operation ratio below the asset minimum")
	ErrWithdrawExceedsCollateral   = errors.New("mint: withdraw exceeds position collateral")
	ErrBurnExceedsSynthetic        = errors.New("mint: burn exceeds position synthetic amount")
	ErrCannotLiquidateSafePosition = errors.New("mint: cannot liquidate a safe position")
	ErrAuctionAllowanceNotEnough   = errors.New("mint: auction allowance not enough")
	ErrPriceExpired                = errors.New("mint: oracle price expired")
)

// half caps each auction call at half the outstanding synthetic amount.
var half = decimal.New(5, -1)

// PriceSource is the slice of the oracle the position ledger consumes.
type PriceSource interface {
	QueryPrice(asset common.Address) (decimal.Decimal, int64, error)
}

// Config holds the position ledger wiring.
type Config struct {
	// Factory may update asset configs alongside the owner.
	Factory common.Address
	// Collector receives withdrawal protocol fees.
	Collector common.Address
	// BaseToken is the reserve asset, always priced 1.
	BaseToken common.Address
	// ProtocolFeeRate is the fraction of every withdrawal routed to the
	// collector.
	ProtocolFeeRate decimal.Decimal
	// PriceExpireTime is the maximum oracle price age in seconds.
	PriceExpireTime int64
}

// AssetConfig is the per-synthetic-asset risk configuration.
type AssetConfig struct {
	// AuctionDiscount is the liquidator's price concession, e.g. 0.2.
	AuctionDiscount decimal.Decimal
	// MinCollateralRatio is the liquidation floor, e.g. 1.5.
	MinCollateralRatio decimal.Decimal
}

// Position is one collateralized debt record. Positions go inert when both
// amounts reach zero; they are never deleted.
type Position struct {
	Index            uint64
	Owner            common.Address
	CollateralAsset  common.Address
	CollateralAmount decimal.Decimal
	SyntheticAsset   common.Address
	SyntheticAmount  decimal.Decimal
}

type positionKey struct {
	owner           common.Address
	collateralAsset common.Address
	syntheticAsset  common.Address
}

// Ledger is the position ledger.
type Ledger struct {
	mu      sync.RWMutex
	owner   common.Address
	custody common.Address
	cfg     Config
	clock   chain.Clock
	tokens  *token.Ledger
	prices  PriceSource

	assets    map[common.Address]AssetConfig
	positions map[uint64]*Position
	byTriple  map[positionKey]uint64
	nextIndex uint64
}

// NewLedger returns an empty position ledger. The custody address must be a
// registered minter on the token ledger for every synthetic asset.
func NewLedger(owner, custody common.Address, cfg Config, clock chain.Clock,
	tokens *token.Ledger, prices PriceSource) *Ledger {
	return &Ledger{
		owner:     owner,
		custody:   custody,
		cfg:       cfg,
		clock:     clock,
		tokens:    tokens,
		prices:    prices,
		assets:    make(map[common.Address]AssetConfig),
		positions: make(map[uint64]*Position),
		byTriple:  make(map[positionKey]uint64),
		nextIndex: 1,
	}
}

// UpdateConfig replaces the ledger wiring. Owner only.
func (l *Ledger) UpdateConfig(caller common.Address, cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if cfg.ProtocolFeeRate.IsNegative() || cfg.ProtocolFeeRate.GreaterThanOrEqual(fixedmath.One) {
		return fmt.Errorf("%w: protocolFeeRate=%s", ErrInvalidConfig, cfg.ProtocolFeeRate)
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

// UpdateAsset registers or replaces a synthetic asset's risk config.
// Factory or owner only.
func (l *Ledger) UpdateAsset(caller, asset common.Address, auctionDiscount,
	minCollateralRatio decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner && caller != l.cfg.Factory {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if !auctionDiscount.IsPositive() || auctionDiscount.GreaterThanOrEqual(fixedmath.One) {
		return fmt.Errorf("%w: auctionDiscount=%s", ErrInvalidConfig, auctionDiscount)
	}
	if minCollateralRatio.LessThan(fixedmath.One) {
		return fmt.Errorf("%w: minCollateralRatio=%s", ErrInvalidConfig, minCollateralRatio)
	}
	l.assets[asset] = AssetConfig{
		AuctionDiscount:    auctionDiscount,
		MinCollateralRatio: minCollateralRatio,
	}
	return nil
}

// QueryAssetConfig returns the asset's risk config.
func (l *Ledger) QueryAssetConfig(asset common.Address) (AssetConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.assets[asset]
	if !ok {
		return AssetConfig{}, fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, asset.Hex())
	}
	return cfg, nil
}

// OpenPosition locks collateral and mints synthetic tokens at the chosen
// collateral ratio. The live position for the same (owner, collateral,
// synthetic) triple is reused when one exists.
func (l *Ledger) OpenPosition(caller, collateralAsset common.Address,
	collateralAmount decimal.Decimal, syntheticAsset common.Address,
	collateralRatio decimal.Decimal) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	assetCfg, ok := l.assets[syntheticAsset]
	if !ok {
		return 0, fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, syntheticAsset.Hex())
	}
	if !collateralAmount.IsPositive() {
		return 0, fmt.Errorf("%w: collateralAmount=%s", ErrInvalidAmount, collateralAmount)
	}
	if collateralRatio.LessThan(assetCfg.MinCollateralRatio) {
		return 0, fmt.Errorf("%w: ratio=%s min=%s", ErrRatioBelowMinimum,
			collateralRatio, assetCfg.MinCollateralRatio)
	}
	collateralPrice, syntheticPrice, err := l.pairPrices(collateralAsset, syntheticAsset)
	if err != nil {
		return 0, err
	}
	relativePrice := fixedmath.DivFloor(collateralPrice, syntheticPrice)
	syntheticAmount := fixedmath.DivFloor(
		fixedmath.MulFloor(collateralAmount, relativePrice), collateralRatio)
	if !syntheticAmount.IsPositive() {
		return 0, fmt.Errorf("%w: syntheticAmount=%s", ErrInvalidAmount, syntheticAmount)
	}

	if err := l.tokens.Transfer(caller, collateralAsset, l.custody, collateralAmount); err != nil {
		return 0, err
	}
	if err := l.tokens.Mint(l.custody, syntheticAsset, caller, syntheticAmount); err != nil {
		return 0, err
	}

	key := positionKey{caller, collateralAsset, syntheticAsset}
	if index, ok := l.byTriple[key]; ok {
		pos := l.positions[index]
		pos.CollateralAmount = pos.CollateralAmount.Add(collateralAmount)
		pos.SyntheticAmount = pos.SyntheticAmount.Add(syntheticAmount)
		return index, nil
	}
	index := l.nextIndex
	l.nextIndex++
	l.positions[index] = &Position{
		Index:            index,
		Owner:            caller,
		CollateralAsset:  collateralAsset,
		CollateralAmount: collateralAmount,
		SyntheticAsset:   syntheticAsset,
		SyntheticAmount:  syntheticAmount,
	}
	l.byTriple[key] = index
	return index, nil
}

// Deposit adds collateral to the caller's position.
func (l *Ledger) Deposit(caller common.Address, index uint64,
	collateralAsset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, err := l.ownedPosition(caller, index)
	if err != nil {
		return err
	}
	if pos.CollateralAsset != collateralAsset {
		return fmt.Errorf("%w: asset=%s position=%d", ErrAssetMismatch,
			collateralAsset.Hex(), index)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if err := l.tokens.Transfer(caller, collateralAsset, l.custody, amount); err != nil {
		return err
	}
	pos.CollateralAmount = pos.CollateralAmount.Add(amount)
	return nil
}

// Withdraw releases collateral from the caller's position. The post-withdraw
// ratio must stay at or above the asset minimum, and a protocol fee on the
// withdrawn amount goes to the collector.
func (l *Ledger) Withdraw(caller common.Address, index uint64,
	collateralAsset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, err := l.ownedPosition(caller, index)
	if err != nil {
		return err
	}
	if pos.CollateralAsset != collateralAsset {
		return fmt.Errorf("%w: asset=%s position=%d", ErrAssetMismatch,
			collateralAsset.Hex(), index)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(pos.CollateralAmount) {
		return fmt.Errorf("%w: amount=%s collateral=%s", ErrWithdrawExceedsCollateral,
			amount, pos.CollateralAmount)
	}
	remaining := pos.CollateralAmount.Sub(amount)
	if err := l.checkRatio(pos, remaining, pos.SyntheticAmount); err != nil {
		return err
	}
	fee := fixedmath.MulFloor(amount, l.cfg.ProtocolFeeRate)
	if fee.IsPositive() {
		if err := l.tokens.Transfer(l.custody, collateralAsset, l.cfg.Collector, fee); err != nil {
			return err
		}
	}
	if err := l.tokens.Transfer(l.custody, collateralAsset, caller, amount.Sub(fee)); err != nil {
		return err
	}
	pos.CollateralAmount = remaining
	return nil
}

// Mint issues more synthetic tokens against the caller's position, subject
// to the post-mint ratio check.
func (l *Ledger) Mint(caller common.Address, index uint64,
	syntheticAsset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, err := l.ownedPosition(caller, index)
	if err != nil {
		return err
	}
	if pos.SyntheticAsset != syntheticAsset {
		return fmt.Errorf("%w: asset=%s position=%d", ErrAssetMismatch,
			syntheticAsset.Hex(), index)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	grown := pos.SyntheticAmount.Add(amount)
	if err := l.checkRatio(pos, pos.CollateralAmount, grown); err != nil {
		return err
	}
	if err := l.tokens.Mint(l.custody, syntheticAsset, caller, amount); err != nil {
		return err
	}
	pos.SyntheticAmount = grown
	return nil
}

// Burn retires synthetic tokens from the caller's position and returns the
// proportional share of the collateral.
func (l *Ledger) Burn(caller common.Address, index uint64,
	syntheticAsset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, err := l.ownedPosition(caller, index)
	if err != nil {
		return err
	}
	if pos.SyntheticAsset != syntheticAsset {
		return fmt.Errorf("%w: asset=%s position=%d", ErrAssetMismatch,
			syntheticAsset.Hex(), index)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(pos.SyntheticAmount) {
		return fmt.Errorf("%w: amount=%s synthetic=%s", ErrBurnExceedsSynthetic,
			amount, pos.SyntheticAmount)
	}
	refund := fixedmath.DivFloor(
		fixedmath.MulFloor(pos.CollateralAmount, amount), pos.SyntheticAmount)
	if err := l.tokens.Burn(l.custody, syntheticAsset, caller, amount); err != nil {
		return err
	}
	if refund.IsPositive() {
		if err := l.tokens.Transfer(l.custody, pos.CollateralAsset, caller, refund); err != nil {
			return err
		}
	}
	pos.SyntheticAmount = pos.SyntheticAmount.Sub(amount)
	pos.CollateralAmount = pos.CollateralAmount.Sub(refund)
	return nil
}

// Auction partially liquidates an undercollateralized position. The caller
// pays synthetic tokens (pre-approved to the custody address) and receives
// discounted collateral. Each call liquidates at most half the outstanding
// synthetic amount; larger requests are clamped, not rejected.
func (l *Ledger) Auction(liquidator common.Address, index uint64,
	amount decimal.Decimal) (liquidated, collateralPaid decimal.Decimal, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[index]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: index=%d", ErrPositionNotFound, index)
	}
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if !pos.SyntheticAmount.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: index=%d synthetic=0",
			ErrCannotLiquidateSafePosition, index)
	}
	assetCfg, ok := l.assets[pos.SyntheticAsset]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: asset=%s",
			ErrAssetNotRegistered, pos.SyntheticAsset.Hex())
	}
	collateralPrice, syntheticPrice, err := l.pairPrices(pos.CollateralAsset, pos.SyntheticAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	ratio := fixedmath.DivFloor(
		fixedmath.MulFloor(pos.CollateralAmount, collateralPrice),
		fixedmath.MulFloor(pos.SyntheticAmount, syntheticPrice))
	if ratio.GreaterThanOrEqual(assetCfg.MinCollateralRatio) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: index=%d ratio=%s min=%s",
			ErrCannotLiquidateSafePosition, index, ratio, assetCfg.MinCollateralRatio)
	}

	liquidated = fixedmath.Min(amount, fixedmath.MulFloor(pos.SyntheticAmount, half))
	// half of a dust debt can truncate to zero
	if !liquidated.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: amount=%s", ErrInvalidAmount, liquidated)
	}
	if allowance := l.tokens.Allowance(pos.SyntheticAsset, liquidator, l.custody); allowance.LessThan(liquidated) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: liquidator=%s allowance=%s amount=%s",
			ErrAuctionAllowanceNotEnough, liquidator.Hex(), allowance, liquidated)
	}
	collateralPaid = fixedmath.MulFloor(
		fixedmath.DivFloor(fixedmath.MulFloor(liquidated, syntheticPrice), collateralPrice),
		fixedmath.One.Add(assetCfg.AuctionDiscount))
	if collateralPaid.GreaterThan(pos.CollateralAmount) {
		collateralPaid = pos.CollateralAmount
	}

	if err := l.tokens.TransferFrom(l.custody, pos.SyntheticAsset, liquidator, l.custody, liquidated); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := l.tokens.Burn(l.custody, pos.SyntheticAsset, l.custody, liquidated); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := l.tokens.Transfer(l.custody, pos.CollateralAsset, liquidator, collateralPaid); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	pos.SyntheticAmount = pos.SyntheticAmount.Sub(liquidated)
	pos.CollateralAmount = pos.CollateralAmount.Sub(collateralPaid)
	return liquidated, collateralPaid, nil
}

// QueryPosition returns a copy of one position.
func (l *Ledger) QueryPosition(index uint64) (Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[index]
	if !ok {
		return Position{}, fmt.Errorf("%w: index=%d", ErrPositionNotFound, index)
	}
	return *pos, nil
}

// QueryPositionIndex returns the index of the position for the triple.
func (l *Ledger) QueryPositionIndex(owner, collateralAsset,
	syntheticAsset common.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	index, ok := l.byTriple[positionKey{owner, collateralAsset, syntheticAsset}]
	if !ok {
		return 0, fmt.Errorf("%w: owner=%s", ErrPositionNotFound, owner.Hex())
	}
	return index, nil
}

// QueryAllPositions returns every position of the owner, ordered by index.
func (l *Ledger) QueryAllPositions(owner common.Address) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0)
	for index := uint64(1); index < l.nextIndex; index++ {
		pos, ok := l.positions[index]
		if ok && pos.Owner == owner {
			out = append(out, *pos)
		}
	}
	return out
}

// QueryInvalidPositions scans for positions of the synthetic asset that are
// auctionable at live prices. Positions whose prices cannot be read are
// skipped.
func (l *Ledger) QueryInvalidPositions(syntheticAsset common.Address) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	assetCfg, ok := l.assets[syntheticAsset]
	if !ok {
		return nil
	}
	out := make([]Position, 0)
	for index := uint64(1); index < l.nextIndex; index++ {
		pos, ok := l.positions[index]
		if !ok || pos.SyntheticAsset != syntheticAsset || !pos.SyntheticAmount.IsPositive() {
			continue
		}
		collateralPrice, syntheticPrice, err := l.pairPrices(pos.CollateralAsset, pos.SyntheticAsset)
		if err != nil {
			continue
		}
		ratio := fixedmath.DivFloor(
			fixedmath.MulFloor(pos.CollateralAmount, collateralPrice),
			fixedmath.MulFloor(pos.SyntheticAmount, syntheticPrice))
		if ratio.LessThan(assetCfg.MinCollateralRatio) {
			out = append(out, *pos)
		}
	}
	return out
}

// ownedPosition fetches a position and checks the caller owns it.
func (l *Ledger) ownedPosition(caller common.Address, index uint64) (*Position, error) {
	pos, ok := l.positions[index]
	if !ok {
		return nil, fmt.Errorf("%w: index=%d", ErrPositionNotFound, index)
	}
	if pos.Owner != caller {
		return nil, fmt.Errorf("%w: caller=%s owner=%s", ErrUnauthorized,
			caller.Hex(), pos.Owner.Hex())
	}
	return pos, nil
}

// checkRatio verifies the would-be position against the asset minimum.
func (l *Ledger) checkRatio(pos *Position, collateralAmount, syntheticAmount decimal.Decimal) error {
	if !syntheticAmount.IsPositive() {
		return nil
	}
	assetCfg, ok := l.assets[pos.SyntheticAsset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrAssetNotRegistered, pos.SyntheticAsset.Hex())
	}
	collateralPrice, syntheticPrice, err := l.pairPrices(pos.CollateralAsset, pos.SyntheticAsset)
	if err != nil {
		return err
	}
	ratio := fixedmath.DivFloor(
		fixedmath.MulFloor(collateralAmount, collateralPrice),
		fixedmath.MulFloor(syntheticAmount, syntheticPrice))
	if ratio.LessThan(assetCfg.MinCollateralRatio) {
		return fmt.Errorf("%w: ratio=%s min=%s", ErrInsufficientCollateral,
			ratio, assetCfg.MinCollateralRatio)
	}
	return nil
}

// pairPrices reads both legs of a position, enforcing price freshness.
// The base token is always priced 1 with a fresh timestamp.
func (l *Ledger) pairPrices(collateralAsset, syntheticAsset common.Address) (decimal.Decimal, decimal.Decimal, error) {
	collateralPrice, err := l.freshPrice(collateralAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	syntheticPrice, err := l.freshPrice(syntheticAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return collateralPrice, syntheticPrice, nil
}

func (l *Ledger) freshPrice(asset common.Address) (decimal.Decimal, error) {
	if asset == l.cfg.BaseToken {
		return fixedmath.One, nil
	}
	price, updatedAt, err := l.prices.QueryPrice(asset)
	if err != nil {
		return decimal.Zero, err
	}
	if l.cfg.PriceExpireTime > 0 {
		if age := l.clock.Now() - updatedAt; age > l.cfg.PriceExpireTime {
			return decimal.Zero, fmt.Errorf("%w: asset=%s age=%d limit=%d",
				ErrPriceExpired, asset.Hex(), age, l.cfg.PriceExpireTime)
		}
	}
	return price, nil
}
