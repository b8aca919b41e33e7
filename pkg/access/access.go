// Package access implements the engine-wide permission list: admins, account
// handlers (contracts allowed to move registry account funds), keepers and
// registered exchange connectors.
package access

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleHandler   Role = "handler"
	RoleKeeper    Role = "keeper"
	RoleConnector Role = "connector"
)

const (
	MethodSetRole            = "Config::setRole"
	MethodToggleAdminControl = "Config::toggleAdminsControl"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleHandler, RoleKeeper, RoleConnector:
		return r, nil
	}
	return "", fmt.Errorf("access: unknown role %q", s)
}

// IsAdmin reports whether addr may administer the engine. With admin control
// disabled every address is an admin.
func IsAdmin(st *ledger.State, addr common.Address) bool {
	a := st.Access()
	return a.AdminControlDisabled || a.Admins[addr]
}

// IsHandler reports whether addr may pull funds out of registry accounts and
// call the reserve's release and lock.
func IsHandler(st *ledger.State, addr common.Address) bool {
	return st.Access().Handlers[addr]
}

// IsKeeper reports whether addr may run reserve index updates. Admins are
// implicitly keepers.
func IsKeeper(st *ledger.State, addr common.Address) bool {
	return st.Access().Keepers[addr] || IsAdmin(st, addr)
}

func IsConnector(st *ledger.State, addr common.Address) bool {
	return st.Access().Connectors[addr]
}

// Grant sets or clears role for subject without a caller check. Genesis and
// tests use it; instructions go through SetRole.
func Grant(st *ledger.State, role Role, subject common.Address, enabled bool) {
	a := st.Access()
	set := roleSet(a, role)
	if enabled {
		set[subject] = true
	} else {
		delete(set, subject)
	}
	st.PutAccess(a)
}

// SetRole is the admin-gated form of Grant.
func SetRole(ctx *ledger.Context, caller common.Address, role Role, subject common.Address, enabled bool) error {
	if !IsAdmin(ctx.State, caller) {
		return events.Reject(MethodSetRole, common.BytesToHash(caller.Bytes()), events.ReasonUnauthorizedCaller)
	}
	Grant(ctx.State, role, subject, enabled)
	ctx.Emit(events.NewAccessChanged(string(role), subject, enabled))
	return nil
}

// ToggleAdminControl flips the "everyone is admin" switch.
func ToggleAdminControl(ctx *ledger.Context, caller common.Address) error {
	if !IsAdmin(ctx.State, caller) {
		return events.Reject(MethodToggleAdminControl, common.BytesToHash(caller.Bytes()), events.ReasonUnauthorizedCaller)
	}
	a := ctx.State.Access()
	a.AdminControlDisabled = !a.AdminControlDisabled
	ctx.State.PutAccess(a)
	ctx.Emit(events.NewAccessChanged("adminControlDisabled", caller, a.AdminControlDisabled))
	return nil
}

func roleSet(a *ledger.Access, role Role) map[common.Address]bool {
	switch role {
	case RoleAdmin:
		return a.Admins
	case RoleHandler:
		return a.Handlers
	case RoleKeeper:
		return a.Keepers
	default:
		return a.Connectors
	}
}
