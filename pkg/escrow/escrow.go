// Package escrow implements custodial balance holders. Each escrow has its own
// ledger address and a single controller allowed to move funds in and out.
package escrow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

var ErrNotOwner = errors.New("escrow: caller is not the owner")

type Escrow struct {
	address common.Address
	owner   common.Address
}

func New(address, owner common.Address) *Escrow {
	return &Escrow{address: address, owner: owner}
}

func (e *Escrow) Address() common.Address { return e.address }
func (e *Escrow) Owner() common.Address   { return e.owner }

func (e *Escrow) Balance(st *ledger.State, asset common.Address) *uint256.Int {
	return st.Balance(e.address, asset)
}

// Deposit pulls value of asset from `from` into the escrow. The owner is
// responsible for having authorized the debit of `from`.
func (e *Escrow) Deposit(ctx *ledger.Context, caller, asset, from common.Address, value *uint256.Int) error {
	if caller != e.owner {
		return fmt.Errorf("%w: deposit by %s", ErrNotOwner, caller.Hex())
	}
	if err := ctx.State.Transfer(asset, from, e.address, value); err != nil {
		return fmt.Errorf("escrow deposit: %w", err)
	}
	return nil
}

// Release pays value of asset from the escrow to `to`.
func (e *Escrow) Release(ctx *ledger.Context, caller, asset, to common.Address, value *uint256.Int) error {
	if caller != e.owner {
		return fmt.Errorf("%w: release by %s", ErrNotOwner, caller.Hex())
	}
	if err := ctx.State.Transfer(asset, e.address, to, value); err != nil {
		return fmt.Errorf("escrow release: %w", err)
	}
	return nil
}
