// Package ethsig verifies wallet signatures produced with personal_sign, the
// scheme browser wallets use for plain-text messages.
package ethsig

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSignatureMismatch is returned when the recovered signer does not
	// match the claimed address.
	ErrSignatureMismatch = errors.New("signature validation failed")
)

// Verify recovers the signer of a personal_sign signature over message and
// compares it to the claimed hex address. Nil means the signature is valid.
func Verify(message, sigHex, hexAddress string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	// Wallets encode the recovery id as 27/28; SigToPub wants 0/1.
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	signerPubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*signerPubKey) != common.HexToAddress(hexAddress) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign produces a wallet-style personal_sign signature. Used by tests and
// tooling; production signatures come from the player's wallet.
func Sign(message string, pk *ecdsa.PrivateKey) (string, error) {
	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, pk)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
