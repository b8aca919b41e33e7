package params

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Contracts are the fixed addresses of the engines and their escrows.
type Contracts struct {
	Registry      common.Address `toml:"registry"`
	Reserve       common.Address `toml:"reserve"`
	ReserveEscrow common.Address `toml:"reserve_escrow"`
	Kernel        common.Address `toml:"kernel"`
	KernelEscrow  common.Address `toml:"kernel_escrow"`
	Margin        common.Address `toml:"margin_kernel"`
	MarginEscrow  common.Address `toml:"margin_escrow"`
	// Connector is the exchange the loan kernel liquidates collateral through.
	Connector common.Address `toml:"connector"`
	// MaxRateDeviation bounds caller-supplied rates around the connector
	// quote, as a decimal fraction ("0.05"). Empty disables the check.
	MaxRateDeviation string `toml:"max_rate_deviation"`
}

type AccessList struct {
	Admins     []common.Address `toml:"admins"`
	Handlers   []common.Address `toml:"handlers"`
	Keepers    []common.Address `toml:"keepers"`
	Connectors []common.Address `toml:"connectors"`
	// AdminControlDisabled starts the chain with admin powers switched off.
	AdminControlDisabled bool `toml:"admin_control_disabled"`
}

// Balance values and rates are decimal strings in whole units ("1.5").
type Balance struct {
	Holder common.Address `toml:"holder"`
	Asset  common.Address `toml:"asset"`
	Value  string         `toml:"value"`
}

type Rate struct {
	Connector common.Address `toml:"connector"`
	From      common.Address `toml:"from"`
	To        common.Address `toml:"to"`
	Rate      string         `toml:"rate"`
}

type Account struct {
	User common.Address `toml:"user"`
}

// Genesis is the initial ledger, loaded from TOML.
type Genesis struct {
	ChainID   string     `toml:"chain_id"`
	Timestamp int64      `toml:"timestamp"`
	Contracts Contracts  `toml:"contracts"`
	Access    AccessList `toml:"access"`
	Balances  []Balance  `toml:"balances"`
	Rates     []Rate     `toml:"rates"`
	Accounts  []Account  `toml:"accounts"`
}

var ErrInvalidGenesis = errors.New("params: invalid genesis")

func LoadGenesis(path string) (*Genesis, error) {
	var g Genesis
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func ParseGenesis(data string) (*Genesis, error) {
	var g Genesis
	if _, err := toml.Decode(data, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) Validate() error {
	c := g.Contracts
	named := []struct {
		name string
		addr common.Address
	}{
		{"registry", c.Registry},
		{"reserve", c.Reserve},
		{"reserve_escrow", c.ReserveEscrow},
		{"kernel", c.Kernel},
		{"kernel_escrow", c.KernelEscrow},
		{"margin_kernel", c.Margin},
		{"margin_escrow", c.MarginEscrow},
		{"connector", c.Connector},
	}
	seen := make(map[common.Address]string, len(named))
	for _, n := range named {
		if n.addr == (common.Address{}) {
			return fmt.Errorf("%w: contracts.%s is not set", ErrInvalidGenesis, n.name)
		}
		if prev, dup := seen[n.addr]; dup {
			return fmt.Errorf("%w: contracts.%s reuses the %s address", ErrInvalidGenesis, n.name, prev)
		}
		seen[n.addr] = n.name
	}
	if len(g.Access.Admins) == 0 {
		return fmt.Errorf("%w: at least one admin is required", ErrInvalidGenesis)
	}
	return nil
}
