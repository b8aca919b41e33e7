package params

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const contracts = `
[contracts]
registry       = "0x0000000000000000000000000000000000000001"
reserve        = "0x0000000000000000000000000000000000000002"
reserve_escrow = "0x0000000000000000000000000000000000000003"
kernel         = "0x0000000000000000000000000000000000000004"
kernel_escrow  = "0x0000000000000000000000000000000000000005"
margin_kernel  = "0x0000000000000000000000000000000000000006"
margin_escrow  = "0x0000000000000000000000000000000000000007"
connector      = "0x0000000000000000000000000000000000000008"
`

func TestParseGenesis(t *testing.T) {
	doc := contracts + `
[access]
admins = ["0x00000000000000000000000000000000000000aa"]

[[balances]]
holder = "0x0000000000000000000000000000000000000003"
asset  = "0x00000000000000000000000000000000000000a1"
value  = "10.5"

[[rates]]
connector = "0x0000000000000000000000000000000000000008"
from      = "0x00000000000000000000000000000000000000a2"
to        = "0x00000000000000000000000000000000000000a1"
rate      = "0.5"
`
	g, err := ParseGenesis(doc)
	if err != nil {
		t.Fatalf("ParseGenesis: %v", err)
	}
	if g.Contracts.Kernel != common.HexToAddress("0x04") {
		t.Errorf("kernel = %s", g.Contracts.Kernel.Hex())
	}
	if len(g.Balances) != 1 || g.Balances[0].Value != "10.5" {
		t.Errorf("balances = %+v", g.Balances)
	}
	if len(g.Rates) != 1 || g.Rates[0].Rate != "0.5" {
		t.Errorf("rates = %+v", g.Rates)
	}
}

func TestGenesisValidation(t *testing.T) {
	admins := "\n[access]\nadmins = [\"0x00000000000000000000000000000000000000aa\"]\n"
	tests := []struct {
		name string
		doc  string
	}{
		{"missing contract", strings.Replace(contracts, `connector      = "0x0000000000000000000000000000000000000008"`, "", 1) + admins},
		{"duplicate address", strings.Replace(contracts, "0000000000000000000000000000000000000005", "0000000000000000000000000000000000000004", 1) + admins},
		{"no admin", contracts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseGenesis(tt.doc); !errors.Is(err, ErrInvalidGenesis) {
				t.Errorf("err = %v, want ErrInvalidGenesis", err)
			}
		})
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("BLOCK_TIME_MS", "250")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DATA_DIR", "")

	cfg := LoadFromEnv(t.TempDir() + "/missing.env")
	if cfg.Node.BlockTime != 250*time.Millisecond {
		t.Errorf("BlockTime = %v", cfg.Node.BlockTime)
	}
	if cfg.API.Addr != ":9090" {
		t.Errorf("API.Addr = %q", cfg.API.Addr)
	}
	if len(cfg.API.AllowedOrigins) != 2 || cfg.API.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.API.AllowedOrigins)
	}
	if cfg.Node.DataDir != Default().Node.DataDir {
		t.Errorf("DataDir = %q, want default", cfg.Node.DataDir)
	}
}
