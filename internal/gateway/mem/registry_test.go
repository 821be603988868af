package mem

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	market   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestRegistryMintAndOwnership(t *testing.T) {
	r := NewRegistry(market)
	ctx := context.Background()

	if err := r.Mint(contract, big.NewInt(1), alice); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := r.Mint(contract, big.NewInt(1), bob); err == nil {
		t.Error("duplicate mint succeeded")
	}

	owner, err := r.OwnerOf(ctx, contract, big.NewInt(1))
	if err != nil {
		t.Fatalf("OwnerOf: %v", err)
	}
	if owner != alice {
		t.Errorf("owner = %s, want alice", owner.Hex())
	}

	if _, err := r.OwnerOf(ctx, contract, big.NewInt(99)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("OwnerOf(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryTransferRequiresApproval(t *testing.T) {
	r := NewRegistry(market)
	ctx := context.Background()

	if err := r.Mint(contract, big.NewInt(1), alice); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// No approval: the marketplace cannot move the token.
	if err := r.TransferFrom(ctx, contract, alice, bob, big.NewInt(1)); !errors.Is(err, domain.ErrNotApproved) {
		t.Errorf("TransferFrom error = %v, want ErrNotApproved", err)
	}

	// Only the owner may grant approval.
	if err := r.Approve(bob, market, contract, big.NewInt(1)); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("Approve by non-owner error = %v, want ErrNotOwner", err)
	}
	if err := r.Approve(alice, market, contract, big.NewInt(1)); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	ok, err := r.Approved(ctx, contract, big.NewInt(1), market)
	if err != nil || !ok {
		t.Fatalf("Approved = %v, %v; want true", ok, err)
	}

	if err := r.TransferFrom(ctx, contract, alice, bob, big.NewInt(1)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	owner, _ := r.OwnerOf(ctx, contract, big.NewInt(1))
	if owner != bob {
		t.Errorf("owner = %s, want bob", owner.Hex())
	}

	// Per-token approval is consumed by the transfer.
	if err := r.TransferFrom(ctx, contract, bob, alice, big.NewInt(1)); !errors.Is(err, domain.ErrNotApproved) {
		t.Errorf("second TransferFrom error = %v, want ErrNotApproved", err)
	}
}

func TestRegistryOperatorApproval(t *testing.T) {
	r := NewRegistry(market)
	ctx := context.Background()

	if err := r.Mint(contract, big.NewInt(7), alice); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	r.SetApprovalForAll(alice, market, true)

	if err := r.TransferFrom(ctx, contract, alice, bob, big.NewInt(7)); err != nil {
		t.Fatalf("TransferFrom with operator approval: %v", err)
	}

	// Stale from address after the ownership change.
	if err := r.TransferFrom(ctx, contract, alice, bob, big.NewInt(7)); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("TransferFrom stale from: error = %v, want ErrNotOwner", err)
	}
}

func TestBankTransfer(t *testing.T) {
	b := NewBank()
	ctx := context.Background()

	b.Deposit(alice, big.NewInt(100))

	if err := b.Transfer(ctx, alice, bob, big.NewInt(150)); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("overdraw error = %v, want ErrInsufficientFunds", err)
	}
	if err := b.Transfer(ctx, alice, bob, big.NewInt(60)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	aliceBal, _ := b.BalanceOf(ctx, alice)
	bobBal, _ := b.BalanceOf(ctx, bob)
	if aliceBal.Int64() != 40 || bobBal.Int64() != 60 {
		t.Errorf("balances = %s/%s, want 40/60", aliceBal, bobBal)
	}
}
