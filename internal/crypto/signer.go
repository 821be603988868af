package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Marketplace mutations are authorized by an EIP-191 personal-message
// signature over a canonical request payload. The handler rebuilds the
// payload from the request fields, recovers the signer address, and compares
// it to the claimed caller; access control then compares the caller to the
// listing's recorded seller.

// Signer signs canonical request payloads with a secp256k1 key. It is used
// by tests, the demo mode, and client tooling; the server side only ever
// recovers.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the signer's account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign produces a 65-byte EIP-191 signature over the payload, hex encoded
// with a 0x prefix. The recovery ID is offset to 27/28 per Ethereum
// convention.
func (s *Signer) Sign(payload string) (string, error) {
	sig, err := ethcrypto.Sign(personalHash(payload), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign payload: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the address that produced the given signature over the
// payload. Both 0/1 and 27/28 recovery IDs are accepted.
func Recover(payload, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalHash(payload), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify recovers the payload's signer and checks it against the claimed
// caller, returning domain.ErrBadSignature on mismatch.
func Verify(caller common.Address, payload, signature string) error {
	recovered, err := Recover(payload, signature)
	if err != nil {
		return err
	}
	if recovered != caller {
		return domain.ErrBadSignature
	}
	return nil
}

// personalHash applies the EIP-191 "personal message" envelope before
// hashing, matching what wallet personal_sign implementations produce.
func personalHash(payload string) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	return ethcrypto.Keccak256([]byte(msg))
}
