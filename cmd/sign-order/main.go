package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/kernel"
)

func main() {
	var (
		userKey    = flag.String("key", "", "borrower private key (hex); generated when empty")
		relayerKey = flag.String("relayer-key", "", "relayer private key (hex); defaults to the borrower key")
		kernelAddr = flag.String("kernel", "0x000000000000000000000000000000000000c0e1", "loan kernel address")
		account    = flag.String("account", "", "registry account holding the collateral")
		loanAsset  = flag.String("loan-asset", "0x00000000000000000000000000000000000000a1", "asset borrowed")
		collAsset  = flag.String("coll-asset", "0x00000000000000000000000000000000000000a2", "collateral asset")
		loanValue  = flag.String("loan", "1", "loan value (decimal)")
		collValue  = flag.String("coll", "1.5", "collateral value (decimal)")
		premium    = flag.String("premium", "0.05", "premium as a fraction of the loan")
		duration   = flag.Uint64("duration", 86400, "loan duration in seconds")
		fee        = flag.String("fee", "0", "relayer fee in the loan asset (decimal)")
		nonce      = flag.Uint64("nonce", 1, "envelope nonce")
	)
	flag.Parse()

	// Step 1: Load or generate keys
	user, err := loadOrGenerate(*userKey)
	if err != nil {
		fail("borrower key", err)
	}
	relayer := user
	if *relayerKey != "" {
		if relayer, err = crypto.FromPrivateKeyHex(*relayerKey); err != nil {
			fail("relayer key", err)
		}
	}
	if *userKey == "" {
		fmt.Printf("Generated borrower: %s\n", user.Address().Hex())
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", user.PrivateKeyHex())
	}

	// Step 2: Build the loan terms
	salt, err := crypto.GenerateSalt()
	if err != nil {
		fail("salt", err)
	}
	terms := kernel.LoanTerms{
		Account:   mustAddress("account", *account),
		Creator:   user.Address(),
		LoanAsset: mustAddress("loan-asset", *loanAsset),
		CollAsset: mustAddress("coll-asset", *collAsset),
		LoanValue: mustFixed("loan", *loanValue),
		CollValue: mustFixed("coll", *collValue),
		Premium:   mustFixed("premium", *premium),
		Duration:  uint256.NewInt(*duration),
		Salt:      salt,
		Fee:       mustFixed("fee", *fee),
	}
	kern := mustAddress("kernel", *kernelAddr)

	// Step 3: Borrower signs the order hash
	orderHash := kernel.OrderHash(kern, terms)
	sig, err := user.SignHash(orderHash)
	if err != nil {
		fail("sign order", err)
	}
	if !crypto.Authorized(crypto.PersonalSignAuthenticator{}, orderHash, sig, terms.Creator) {
		fail("verify order", fmt.Errorf("signature does not recover to %s", terms.Creator.Hex()))
	}
	fmt.Printf("Order Hash: %s\n", orderHash.Hex())

	// Step 4: Relayer wraps and signs the envelope
	env, err := transaction.NewEnvelope(transaction.TxLoanCreate, relayer.Address(), uint256.NewInt(*nonce),
		transaction.LoanCreate{LoanTerms: terms, Signature: sig})
	if err != nil {
		fail("envelope", err)
	}
	if err := env.Sign(relayer); err != nil {
		fail("sign envelope", err)
	}
	sender, txHash, err := transaction.NewVerifier(crypto.PersonalSignAuthenticator{}).VerifySender(env)
	if err != nil {
		fail("verify envelope", err)
	}
	fmt.Printf("Tx Hash: %s (relayer %s)\n\n", txHash.Hex(), sender.Hex())

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println("To submit this instruction:")
	fmt.Println("  POST http://localhost:8080/api/v1/tx")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(out))
}

func loadOrGenerate(hexKey string) (*crypto.Signer, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(hexKey)
}

func mustAddress(name, v string) common.Address {
	if !common.IsHexAddress(v) {
		fail(name, fmt.Errorf("not a hex address: %q", v))
	}
	return common.HexToAddress(v)
}

func mustFixed(name, v string) *uint256.Int {
	x, err := fixed.Parse(v)
	if err != nil {
		fail(name, err)
	}
	return x
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", what, err)
	os.Exit(1)
}
