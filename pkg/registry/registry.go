// Package registry manages user wallets ("accounts"). An account holds funds at
// its own ledger address; its users move them by signature and registered
// handlers (the kernels and the reserve) pull them during settlement.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/access"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

const (
	MethodCreateAccount  = "AccountFactory::newAccount"
	MethodSetValid       = "AccountFactory::setAccountValid"
	MethodAddUser        = "Account::addUser"
	MethodRemoveUser     = "Account::removeUser"
	MethodChangeImpl     = "Account::changeImplementation"
	MethodTransferByUser = "Account::transferByUser"
	MethodTransferBySys  = "Account::transferBySystem"
	MethodDeposit        = "Account::deposit"
)

// Hash-type tags mixed into signed tuples.
const (
	TagAddUser    = "ADD_USER"
	TagRemoveUser = "REMOVE_USER"
	TagChangeImpl = "CHANGE_ACCOUNT_IMPLEMENTATION"
	TagDeposit    = "DEPOSIT"
)

var ErrUnknownAccount = errors.New("registry: unknown account")

type Registry struct {
	address common.Address
	auth    crypto.Authenticator
}

func New(address common.Address, auth crypto.Authenticator) *Registry {
	return &Registry{address: address, auth: auth}
}

func (r *Registry) Address() common.Address { return r.address }

// ==============================
// Queries
// ==============================

// IsAccountValid reports whether addr is a registered account that has not
// been invalidated by an admin.
func (r *Registry) IsAccountValid(st *ledger.State, addr common.Address) bool {
	a, ok := st.Account(addr)
	return ok && a.Valid
}

func (r *Registry) Exists(st *ledger.State, addr common.Address) bool {
	_, ok := st.Account(addr)
	return ok
}

func (r *Registry) IsUser(st *ledger.State, account, user common.Address) bool {
	a, ok := st.Account(account)
	return ok && a.IsUser(user)
}

// AccountAddress derives the address the n-th account created for user gets.
func (r *Registry) AccountAddress(user common.Address, n int) common.Address {
	h := crypto.Pack().Address(r.address).Address(user).Uint64(uint64(n)).Hash()
	return common.BytesToAddress(h.Bytes()[12:])
}

// ==============================
// Account lifecycle
// ==============================

// CreateAccount deploys a new account with user as its only user.
func (r *Registry) CreateAccount(ctx *ledger.Context, user common.Address) (common.Address, error) {
	addr := r.AccountAddress(user, ctx.State.AccountCount())
	if _, exists := ctx.State.Account(addr); exists {
		return common.Address{}, events.Reject(MethodCreateAccount, common.BytesToHash(addr.Bytes()), events.ReasonAccountAlreadyExists)
	}
	ctx.State.PutAccount(&ledger.Account{
		Address:        addr,
		Users:          []common.Address{user},
		Implementation: r.address,
		Valid:          true,
		CreatedAt:      ctx.Time,
	})
	ctx.State.AppendUserAccount(user, addr)
	ctx.Emit(events.NewAccountCreated(addr, user))
	return addr, nil
}

func (r *Registry) BatchCreateAccounts(ctx *ledger.Context, users []common.Address) ([]common.Address, error) {
	out := make([]common.Address, 0, len(users))
	for _, u := range users {
		addr, err := r.CreateAccount(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// SetValid flips the validity flag of an account. Invalid accounts can no
// longer open orders.
func (r *Registry) SetValid(ctx *ledger.Context, caller, account common.Address, valid bool) error {
	if !access.IsAdmin(ctx.State, caller) {
		return events.Reject(MethodSetValid, common.BytesToHash(account.Bytes()), events.ReasonUnauthorizedCaller)
	}
	a, ok := ctx.State.Account(account)
	if !ok {
		return events.Reject(MethodSetValid, common.BytesToHash(account.Bytes()), events.ReasonInvalidOrderAccount)
	}
	a.Valid = valid
	ctx.State.PutAccount(a)
	return nil
}

// ==============================
// User-signed operations
// ==============================

func UserChangeHash(account, user common.Address, tag string, salt *uint256.Int) common.Hash {
	return crypto.Pack().Address(account).Address(user).String(tag).Uint256(salt).Hash()
}

func TransferHash(account, asset, to common.Address, value, salt *uint256.Int) common.Hash {
	return crypto.Pack().Address(account).Address(asset).Address(to).Uint256(value).Uint256(salt).Hash()
}

func DepositHash(account, asset common.Address, value *uint256.Int, salt *uint256.Int) common.Hash {
	return crypto.Pack().Address(account).Address(asset).Uint256(value).String(TagDeposit).Uint256(salt).Hash()
}

// authorizeUser checks that hash was signed by a user of account and has not
// been used before, and consumes it.
func (r *Registry) authorizeUser(ctx *ledger.Context, method string, account common.Address, hash common.Hash, sig []byte) (*ledger.Account, error) {
	a, ok := ctx.State.Account(account)
	if !ok {
		return nil, events.Reject(method, hash, events.ReasonInvalidOrderAccount)
	}
	signer, err := r.auth.Recover(hash, sig)
	if err != nil || !a.IsUser(signer) {
		return nil, events.Reject(method, hash, events.ReasonSignerNotAccountUser)
	}
	if ctx.State.Consumed(hash) {
		return nil, events.Reject(method, hash, events.ReasonSaltAlreadyUsed)
	}
	ctx.State.Consume(hash)
	return a, nil
}

func (r *Registry) AddUser(ctx *ledger.Context, account, user common.Address, salt *uint256.Int, sig []byte) error {
	hash := UserChangeHash(account, user, TagAddUser, salt)
	a, err := r.authorizeUser(ctx, MethodAddUser, account, hash, sig)
	if err != nil {
		return err
	}
	if a.IsUser(user) {
		return events.Reject(MethodAddUser, hash, events.ReasonUserAlreadyExists)
	}
	a.Users = append(a.Users, user)
	ctx.State.PutAccount(a)
	ctx.State.AppendUserAccount(user, account)
	ctx.Emit(events.NewUserAdded(account, user))
	return nil
}

func (r *Registry) RemoveUser(ctx *ledger.Context, account, user common.Address, salt *uint256.Int, sig []byte) error {
	hash := UserChangeHash(account, user, TagRemoveUser, salt)
	a, err := r.authorizeUser(ctx, MethodRemoveUser, account, hash, sig)
	if err != nil {
		return err
	}
	if !a.IsUser(user) {
		return events.Reject(MethodRemoveUser, hash, events.ReasonUserDoesNotExist)
	}
	if len(a.Users) == 1 {
		return events.Reject(MethodRemoveUser, hash, events.ReasonLastUser)
	}
	users := a.Users[:0]
	for _, u := range a.Users {
		if u != user {
			users = append(users, u)
		}
	}
	a.Users = users
	ctx.State.PutAccount(a)
	ctx.Emit(events.NewUserRemoved(account, user))
	return nil
}

func (r *Registry) ChangeImplementation(ctx *ledger.Context, account, impl common.Address, salt *uint256.Int, sig []byte) error {
	hash := UserChangeHash(account, impl, TagChangeImpl, salt)
	a, err := r.authorizeUser(ctx, MethodChangeImpl, account, hash, sig)
	if err != nil {
		return err
	}
	a.Implementation = impl
	ctx.State.PutAccount(a)
	ctx.Emit(events.NewImplementationChanged(account, impl))
	return nil
}

// TransferByUser withdraws from an account to any address on a user's signature.
func (r *Registry) TransferByUser(ctx *ledger.Context, account, asset, to common.Address, value, salt *uint256.Int, sig []byte) error {
	hash := TransferHash(account, asset, to, value, salt)
	if _, err := r.authorizeUser(ctx, MethodTransferByUser, account, hash, sig); err != nil {
		return err
	}
	if err := ctx.State.Transfer(asset, account, to, value); err != nil {
		return fmt.Errorf("transfer by user: %w", err)
	}
	ctx.Emit(events.NewTransfer(asset, account, to, value))
	return nil
}

// Deposit funds an account from the signer's own wallet balance. Any address
// may fund any registered account.
func (r *Registry) Deposit(ctx *ledger.Context, account, asset common.Address, value, salt *uint256.Int, sig []byte) error {
	hash := DepositHash(account, asset, value, salt)
	if _, ok := ctx.State.Account(account); !ok {
		return events.Reject(MethodDeposit, hash, events.ReasonInvalidOrderAccount)
	}
	from, err := r.auth.Recover(hash, sig)
	if err != nil {
		return events.Reject(MethodDeposit, hash, events.ReasonSignerNotAccountUser)
	}
	if ctx.State.Consumed(hash) {
		return events.Reject(MethodDeposit, hash, events.ReasonSaltAlreadyUsed)
	}
	ctx.State.Consume(hash)
	if err := ctx.State.Transfer(asset, from, account, value); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	ctx.Emit(events.NewTransfer(asset, from, account, value))
	return nil
}

// ==============================
// Handler hooks
// ==============================

// TransferBySystem pulls value of asset out of account on behalf of a
// registered handler. Settlement engines use it to lock collateral, repayments
// and reserve deposits.
func (r *Registry) TransferBySystem(ctx *ledger.Context, handler, account, asset, to common.Address, value *uint256.Int) error {
	if !access.IsHandler(ctx.State, handler) {
		return events.Reject(MethodTransferBySys, common.BytesToHash(handler.Bytes()), events.ReasonUnauthorizedCaller)
	}
	if _, ok := ctx.State.Account(account); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	if err := ctx.State.Transfer(asset, account, to, value); err != nil {
		return fmt.Errorf("transfer by system: %w", err)
	}
	return nil
}
