package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/crypto"
)

var ErrBadSenderSignature = errors.New("transaction: sender signature invalid")

// Verifier checks that the envelope was signed by its declared sender.
// User signatures inside payloads are checked by the engines.
type Verifier struct {
	auth crypto.Authenticator
}

func NewVerifier(auth crypto.Authenticator) *Verifier {
	return &Verifier{auth: auth}
}

// VerifySender returns the sender and the envelope hash.
func (v *Verifier) VerifySender(e *Envelope) (common.Address, common.Hash, error) {
	hash := e.Hash()
	signer, err := v.auth.Recover(hash, e.Signature)
	if err != nil {
		return common.Address{}, hash, fmt.Errorf("%w: %v", ErrBadSenderSignature, err)
	}
	if signer != e.Sender {
		return common.Address{}, hash, fmt.Errorf("%w: recovered %s", ErrBadSenderSignature, signer.Hex())
	}
	return signer, hash, nil
}
