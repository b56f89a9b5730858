// Package token models the host ledger's token accounting: balances,
// allowances, and mint/burn authority. Every custody motion of the protocol
// engines goes through this ledger, so a failed transfer aborts an operation
// with no partial state change.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnauthorized        = errors.New("token: caller is not the owner")
	ErrNotMinter           = errors.New("token: caller is not a registered minter")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrAllowanceNotEnough  = errors.New("token: allowance not enough")
)

type holding struct {
	asset  common.Address
	holder common.Address
}

type grant struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger tracks balances and allowances for all assets.
type Ledger struct {
	mu         sync.RWMutex
	owner      common.Address
	balances   map[holding]decimal.Decimal
	allowances map[grant]decimal.Decimal
	minters    map[common.Address]bool
}

// NewLedger returns an empty token ledger administered by owner.
func NewLedger(owner common.Address) *Ledger {
	return &Ledger{
		owner:      owner,
		balances:   make(map[holding]decimal.Decimal),
		allowances: make(map[grant]decimal.Decimal),
		minters:    make(map[common.Address]bool),
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

// RegisterMinter grants or revokes mint/burn authority. Owner only.
func (l *Ledger) RegisterMinter(caller, minter common.Address, allowed bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	l.minters[minter] = allowed
	return nil
}

// Mint creates amount of asset on the recipient's balance. Minter only.
func (l *Ledger) Mint(caller, asset, to common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.minters[caller] {
		return fmt.Errorf("%w: caller=%s", ErrNotMinter, caller.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	l.credit(asset, to, amount)
	return nil
}

// Burn destroys amount of asset held by from. Minter only.
func (l *Ledger) Burn(caller, asset, from common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.minters[caller] {
		return fmt.Errorf("%w: caller=%s", ErrNotMinter, caller.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	return l.debit(asset, from, amount)
}

// Transfer moves amount of asset from the caller to the recipient.
func (l *Ledger) Transfer(from, asset, to common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	l.credit(asset, to, amount)
	return nil
}

// Approve lets spender pull up to amount of asset from the caller.
func (l *Ledger) Approve(owner, asset, spender common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.IsNegative() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	l.allowances[grant{asset, owner, spender}] = amount
	return nil
}

// TransferFrom moves amount of asset from owner to the recipient, drawing
// down the caller's allowance.
func (l *Ledger) TransferFrom(caller, asset, owner, to common.Address, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount=%s", ErrInvalidAmount, amount)
	}
	g := grant{asset, owner, caller}
	allowance := l.allowances[g]
	if allowance.LessThan(amount) {
		return fmt.Errorf("%w: owner=%s spender=%s allowance=%s amount=%s",
			ErrAllowanceNotEnough, owner.Hex(), caller.Hex(), allowance, amount)
	}
	if err := l.debit(asset, owner, amount); err != nil {
		return err
	}
	l.allowances[g] = allowance.Sub(amount)
	l.credit(asset, to, amount)
	return nil
}

// BalanceOf returns the asset balance of holder.
func (l *Ledger) BalanceOf(asset, holder common.Address) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holding{asset, holder}]
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(asset, owner, spender common.Address) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[grant{asset, owner, spender}]
}

func (l *Ledger) credit(asset, holder common.Address, amount decimal.Decimal) {
	h := holding{asset, holder}
	l.balances[h] = l.balances[h].Add(amount)
}

func (l *Ledger) debit(asset, holder common.Address, amount decimal.Decimal) error {
	h := holding{asset, holder}
	balance := l.balances[h]
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: asset=%s holder=%s balance=%s amount=%s",
			ErrInsufficientBalance, asset.Hex(), holder.Hex(), balance, amount)
	}
	l.balances[h] = balance.Sub(amount)
	return nil
}
