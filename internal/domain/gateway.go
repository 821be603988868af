package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetGateway is the ledger's only path to asset custody. It mirrors the
// ERC-721 surface the marketplace consumes: ownership lookup, approval
// inspection, and the custody transfer executed at purchase time. The
// marketplace never holds custody itself.
type AssetGateway interface {
	// OwnerOf returns the current owner of the asset.
	OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error)

	// Approved reports whether operator may move the asset on the owner's
	// behalf, either through a per-token approval or an operator approval.
	Approved(ctx context.Context, contract common.Address, tokenID *big.Int, operator common.Address) (bool, error)

	// TransferFrom reassigns custody from the current owner to the
	// recipient. It must fail, with no effect, if the caller identity the
	// gateway operates as lacks approval or if from no longer owns the
	// asset.
	TransferFrom(ctx context.Context, contract common.Address, from, to common.Address, tokenID *big.Int) error
}

// Bank forwards purchase payments from buyer to seller. An on-chain
// deployment settles value inside the purchase transaction itself; off-chain
// deployments plug in an escrow or payments backend here.
type Bank interface {
	// Transfer moves amount (wei) from one account to another. It either
	// fully applies or fails with no effect.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error

	// BalanceOf returns the spendable balance of an account.
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}
