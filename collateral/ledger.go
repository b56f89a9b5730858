// Package collateral implements the time-locked deposit ledger. Each
// (account, asset) deposit unlocks linearly with block height; the staking
// ledger draws the unlocked allowance down when rewards are claimed.
package collateral

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
	ErrUnauthorized         = errors.New("collateral: caller is not authorized")
	ErrAssetNotSupported    = errors.New("collateral: asset has no unlock speed configured")
	ErrInvalidAmount        = errors.New("collateral: amount must be positive")
	ErrInsufficientDeposit  = errors.New("collateral: withdraw exceeds deposit")
	ErrInsufficientUnlocked = errors.New("collateral: reduce exceeds unlocked amount")
	ErrConfigLengthMismatch = errors.New("collateral: assets and unlock speeds length mismatch")
)

type depositKey struct {
	account common.Address
	asset   common.Address
}

// record holds one account's deposit of one asset.
//
// floor preserves unlock accrued before the last principal mutation, consumed
// counts what the staking ledger has already drawn. The effective unlocked
// amount is min(floor + amount*speed*elapsed, amount) - consumed, clamped at
// zero.
type record struct {
	amount   decimal.Decimal
	block    int64
	floor    decimal.Decimal
	consumed decimal.Decimal
}

// Ledger is the collateral lock.
type Ledger struct {
	mu              sync.RWMutex
	owner           common.Address
	custody         common.Address
	stakingContract common.Address
	clock           chain.Clock
	tokens          *token.Ledger
	unlockSpeeds    map[common.Address]decimal.Decimal
	deposits        map[depositKey]*record
}

// NewLedger returns an empty collateral lock.
func NewLedger(owner, custody common.Address, clock chain.Clock, tokens *token.Ledger) *Ledger {
	return &Ledger{
		owner:        owner,
		custody:      custody,
		clock:        clock,
		tokens:       tokens,
		unlockSpeeds: make(map[common.Address]decimal.Decimal),
		deposits:     make(map[depositKey]*record),
	}
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

// UpdateConfig sets the staking contract and per-asset unlock speeds.
// Owner only.
func (l *Ledger) UpdateConfig(caller, stakingContract common.Address,
	assets []common.Address, unlockSpeeds []decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if len(assets) != len(unlockSpeeds) {
		return fmt.Errorf("%w: assets=%d speeds=%d", ErrConfigLengthMismatch, len(assets), len(unlockSpeeds))
	}
	l.stakingContract = stakingContract
	for i, asset := range assets {
		l.unlockSpeeds[asset] = unlockSpeeds[i]
	}
	return nil
}

// UpdateUnlockSpeed sets the unlock speed of a single asset. Owner only.
func (l *Ledger) UpdateUnlockSpeed(caller, asset common.Address, speed decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if speed.IsNegative() {
		return fmt.Errorf("%w: speed=%s", ErrInvalidAmount, speed)
	}
	l.unlockSpeeds[asset] = speed
	return nil
}

// Deposit locks amount of asset for the caller. The accrued unlocked amount
// survives as a floor, accrual restarts from the current block.
func (l *Ledger) Deposit(caller, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	speed, ok := l.unlockSpeeds[asset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrAssetNotSupported, asset.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if err := l.tokens.Transfer(caller, asset, l.custody, amount); err != nil {
		return err
	}
	key := depositKey{caller, asset}
	rec, ok := l.deposits[key]
	if !ok {
		rec = &record{}
		l.deposits[key] = rec
	}
	block := l.clock.Block()
	rec.floor = l.rawUnlocked(rec, speed, block)
	rec.amount = rec.amount.Add(amount)
	rec.block = block
	return nil
}

// Withdraw releases amount of the caller's locked principal. The unlocked
// amount accrued so far is preserved as a floor, clamped to the remaining
// principal.
func (l *Ledger) Withdraw(caller, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	speed, ok := l.unlockSpeeds[asset]
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrAssetNotSupported, asset.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	key := depositKey{caller, asset}
	rec, ok := l.deposits[key]
	if !ok || rec.amount.LessThan(amount) {
		var have decimal.Decimal
		if ok {
			have = rec.amount
		}
		return fmt.Errorf("%w: account=%s asset=%s deposit=%s amount=%s",
			ErrInsufficientDeposit, caller.Hex(), asset.Hex(), have, amount)
	}
	if err := l.tokens.Transfer(l.custody, asset, caller, amount); err != nil {
		return err
	}
	block := l.clock.Block()
	floor := l.rawUnlocked(rec, speed, block)
	rec.amount = rec.amount.Sub(amount)
	rec.floor = fixedmath.Min(floor, rec.amount)
	rec.block = block
	return nil
}

// QueryUnlockedAmount returns the currently unlocked amount of a deposit.
func (l *Ledger) QueryUnlockedAmount(account, asset common.Address) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unlockedLocked(account, asset)
}

// QueryDeposit returns the locked principal and the block of the last
// principal mutation.
func (l *Ledger) QueryDeposit(account, asset common.Address) (decimal.Decimal, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.deposits[depositKey{account, asset}]
	if !ok {
		return decimal.Zero, 0
	}
	return rec.amount, rec.block
}

// ReduceUnlockedAmount consumes amount of the unlocked balance. Staking
// contract only; the accrual clock is not touched.
func (l *Ledger) ReduceUnlockedAmount(caller, account, asset common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.stakingContract {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	unlocked := l.unlockedLocked(account, asset)
	if unlocked.LessThan(amount) {
		return fmt.Errorf("%w: account=%s asset=%s unlocked=%s amount=%s",
			ErrInsufficientUnlocked, account.Hex(), asset.Hex(), unlocked, amount)
	}
	rec := l.deposits[depositKey{account, asset}]
	rec.consumed = rec.consumed.Add(amount)
	return nil
}

func (l *Ledger) unlockedLocked(account, asset common.Address) decimal.Decimal {
	rec, ok := l.deposits[depositKey{account, asset}]
	if !ok {
		return decimal.Zero
	}
	speed, ok := l.unlockSpeeds[asset]
	if !ok {
		return decimal.Zero
	}
	raw := l.rawUnlocked(rec, speed, l.clock.Block())
	unlocked := raw.Sub(rec.consumed)
	if unlocked.IsNegative() {
		return decimal.Zero
	}
	return unlocked
}

// rawUnlocked is the unlock curve before consumption: floor plus linear
// accrual since the last mutation, never above the principal.
func (l *Ledger) rawUnlocked(rec *record, speed decimal.Decimal, block int64) decimal.Decimal {
	elapsed := decimal.NewFromInt(block - rec.block)
	accrued := rec.floor.Add(fixedmath.MulFloor(fixedmath.MulFloor(rec.amount, speed), elapsed))
	return fixedmath.Min(accrued, rec.amount)
}

// DepositRecord is the persisted form of a deposit.
type DepositRecord struct {
	Account  common.Address
	Asset    common.Address
	Amount   decimal.Decimal
	Block    int64
	Floor    decimal.Decimal
	Consumed decimal.Decimal
}

// Snapshot returns a copy of all deposits for persistence.
func (l *Ledger) Snapshot() []DepositRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]DepositRecord, 0, len(l.deposits))
	for key, rec := range l.deposits {
		out = append(out, DepositRecord{
			Account:  key.account,
			Asset:    key.asset,
			Amount:   rec.amount,
			Block:    rec.block,
			Floor:    rec.floor,
			Consumed: rec.consumed,
		})
	}
	return out
}

// Restore replaces all deposits with previously snapshotted records.
func (l *Ledger) Restore(records []DepositRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deposits = make(map[depositKey]*record, len(records))
	for _, r := range records {
		l.deposits[depositKey{r.Account, r.Asset}] = &record{
			amount:   r.Amount,
			block:    r.Block,
			floor:    r.Floor,
			consumed: r.Consumed,
		}
	}
}

// SpeedRecord is the persisted form of one asset's unlock speed.
type SpeedRecord struct {
	Asset       common.Address
	UnlockSpeed decimal.Decimal
}

// SnapshotSpeeds returns a copy of the unlock speed table for persistence.
func (l *Ledger) SnapshotSpeeds() []SpeedRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]SpeedRecord, 0, len(l.unlockSpeeds))
	for asset, speed := range l.unlockSpeeds {
		out = append(out, SpeedRecord{Asset: asset, UnlockSpeed: speed})
	}
	return out
}

// RestoreSpeeds replaces the unlock speed table with snapshotted records.
func (l *Ledger) RestoreSpeeds(records []SpeedRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlockSpeeds = make(map[common.Address]decimal.Decimal, len(records))
	for _, r := range records {
		l.unlockSpeeds[r.Asset] = r.UnlockSpeed
	}
}
