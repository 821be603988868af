package crypto

import (
	"encoding/hex"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nftbazaar/marketd/internal/domain"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

func TestSignAndRecover(t *testing.T) {
	s := newTestSigner(t)
	payload := "marketd:list:0xaa:1:1000000000000000000:42"

	sig, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	recovered, err := Recover(payload, sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != s.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), s.Address().Hex())
	}

	if err := Verify(s.Address(), payload, sig); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyRejectsWrongCaller(t *testing.T) {
	s := newTestSigner(t)
	other := newTestSigner(t)
	payload := "marketd:cancel:0"

	sig, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := Verify(other.Address(), payload, sig); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("Verify error = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	s := newTestSigner(t)

	sig, err := s.Sign("marketd:buy:0:1000")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := Verify(s.Address(), "marketd:buy:0:9999", sig); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("Verify error = %v, want ErrBadSignature", err)
	}
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	for _, sig := range []string{"", "0x1234", "zz"} {
		if _, err := Recover("payload", sig); err == nil {
			t.Errorf("Recover(%q) succeeded, want error", sig)
		}
	}
}

func TestNewSignerFromHex(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := "0x" + hex.EncodeToString(ethcrypto.FromECDSA(pk))

	s, err := NewSigner(hexKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.Address() != ethcrypto.PubkeyToAddress(pk.PublicKey) {
		t.Error("address mismatch")
	}

	if _, err := NewSigner("not-hex"); err == nil {
		t.Error("NewSigner accepted invalid key")
	}
}
