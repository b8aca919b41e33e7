package crypto

import (
	"github.com/ethereum/go-ethereum/common"
)

// Authenticator recovers the address that authorized an instruction hash.
// Engines depend on this interface so the signature scheme can be swapped.
type Authenticator interface {
	Recover(hash common.Hash, signature []byte) (common.Address, error)
}

// PersonalSignAuthenticator accepts secp256k1 signatures over the EIP-191
// personal message hash of the instruction hash.
type PersonalSignAuthenticator struct{}

func (PersonalSignAuthenticator) Recover(hash common.Hash, signature []byte) (common.Address, error) {
	return RecoverAddress(PersonalHash(hash).Bytes(), signature)
}

// Authorized reports whether signature over hash recovers to expected.
// Malformed signatures are treated as unauthorized.
func Authorized(auth Authenticator, hash common.Hash, signature []byte, expected common.Address) bool {
	signer, err := auth.Recover(hash, signature)
	if err != nil {
		return false
	}
	return signer == expected
}
