package crypto

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Packed builds a tightly packed encoding identical to Solidity's
// abi.encodePacked for the types used by signed instructions:
//
//	address -> 20 bytes
//	uint256 -> 32 bytes big-endian
//	bytes32 -> 32 bytes
//	string  -> raw UTF-8 bytes, no length prefix
type Packed struct {
	buf []byte
}

func Pack() *Packed {
	return &Packed{buf: make([]byte, 0, 320)}
}

func (p *Packed) Address(a common.Address) *Packed {
	p.buf = append(p.buf, a.Bytes()...)
	return p
}

// Uint256 appends v as a 32-byte word. A nil value packs as zero.
func (p *Packed) Uint256(v *uint256.Int) *Packed {
	var word [32]byte
	if v != nil {
		word = v.Bytes32()
	}
	p.buf = append(p.buf, word[:]...)
	return p
}

func (p *Packed) Uint64(v uint64) *Packed {
	return p.Uint256(uint256.NewInt(v))
}

func (p *Packed) Bytes32(h common.Hash) *Packed {
	p.buf = append(p.buf, h.Bytes()...)
	return p
}

func (p *Packed) String(s string) *Packed {
	p.buf = append(p.buf, s...)
	return p
}

func (p *Packed) Bytes() []byte { return p.buf }

// Hash returns keccak256 of the packed bytes.
func (p *Packed) Hash() common.Hash {
	return crypto.Keccak256Hash(p.buf)
}

// PersonalHash wraps a 32-byte instruction hash in the EIP-191 personal
// message envelope ("\x19Ethereum Signed Message:\n32" ++ hash).
func PersonalHash(hash common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(hash.Bytes()))
}
