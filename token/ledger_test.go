package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	admin = common.HexToAddress("0x01")
	asset = common.HexToAddress("0xa1")
	alice = common.HexToAddress("0x0a")
	bob   = common.HexToAddress("0x0b")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFunded(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(admin)
	require.NoError(t, l.RegisterMinter(admin, admin, true))
	require.NoError(t, l.Mint(admin, asset, alice, d("100")))
	return l
}

func TestMintRequiresMinter(t *testing.T) {
	l := NewLedger(admin)
	err := l.Mint(alice, asset, alice, d("1"))
	require.True(t, errors.Is(err, ErrNotMinter))

	require.NoError(t, l.RegisterMinter(admin, alice, true))
	require.NoError(t, l.Mint(alice, asset, alice, d("1")))
	require.True(t, l.BalanceOf(asset, alice).Equal(d("1")))

	err = l.RegisterMinter(bob, bob, true)
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestTransfer(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Transfer(alice, asset, bob, d("40")))
	require.True(t, l.BalanceOf(asset, alice).Equal(d("60")))
	require.True(t, l.BalanceOf(asset, bob).Equal(d("40")))

	err := l.Transfer(alice, asset, bob, d("1000"))
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	// failed transfer leaves balances untouched
	require.True(t, l.BalanceOf(asset, alice).Equal(d("60")))

	err = l.Transfer(alice, asset, bob, decimal.Zero)
	require.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestTransferFromDrawsDownAllowance(t *testing.T) {
	l := newFunded(t)

	err := l.TransferFrom(bob, asset, alice, bob, d("10"))
	require.True(t, errors.Is(err, ErrAllowanceNotEnough))

	require.NoError(t, l.Approve(alice, asset, bob, d("25")))
	require.NoError(t, l.TransferFrom(bob, asset, alice, bob, d("10")))
	require.True(t, l.Allowance(asset, alice, bob).Equal(d("15")))
	require.True(t, l.BalanceOf(asset, bob).Equal(d("10")))

	err = l.TransferFrom(bob, asset, alice, bob, d("20"))
	require.True(t, errors.Is(err, ErrAllowanceNotEnough))
}

func TestBurn(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Burn(admin, asset, alice, d("30")))
	require.True(t, l.BalanceOf(asset, alice).Equal(d("70")))

	err := l.Burn(admin, asset, alice, d("1000"))
	require.True(t, errors.Is(err, ErrInsufficientBalance))
}
