// Package mem provides in-memory implementations of the asset custody
// gateway and the payment bank. They back the test suites and the demo mode;
// production deployments swap in the eth-backed gateway.
package mem

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

type assetState struct {
	owner    common.Address
	approved common.Address // zero address when unset
}

// Registry is an in-memory ERC-721-style custody registry. The marketplace
// interacts with it as the configured operator: TransferFrom succeeds only
// when the operator holds a per-token or blanket approval from the current
// owner.
type Registry struct {
	mu        sync.Mutex
	operator  common.Address
	assets    map[string]*assetState
	operators map[common.Address]map[common.Address]bool // owner -> operator -> approved
}

// NewRegistry creates an empty registry that transfers on behalf of the
// given marketplace operator address.
func NewRegistry(operator common.Address) *Registry {
	return &Registry{
		operator:  operator,
		assets:    make(map[string]*assetState),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

// Operator returns the marketplace operator address the registry transfers
// on behalf of.
func (r *Registry) Operator() common.Address {
	return r.operator
}

func assetKey(contract common.Address, tokenID *big.Int) string {
	return domain.AssetRef{Contract: contract, TokenID: tokenID}.Key()
}

// Mint assigns a fresh token to an owner. It fails if the token already
// exists.
func (r *Registry) Mint(contract common.Address, tokenID *big.Int, owner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assetKey(contract, tokenID)
	if _, exists := r.assets[key]; exists {
		return fmt.Errorf("mem: token %s already minted", key)
	}
	r.assets[key] = &assetState{owner: owner}
	return nil
}

// Approve grants a per-token transfer approval. Only the current owner may
// approve; passing the zero address clears the approval.
func (r *Registry) Approve(caller, spender common.Address, contract common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.assets[assetKey(contract, tokenID)]
	if !ok {
		return domain.ErrNotFound
	}
	if st.owner != caller {
		return domain.ErrNotOwner
	}
	st.approved = spender
	return nil
}

// SetApprovalForAll grants or revokes a blanket operator approval covering
// every token the owner holds.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.operators[owner] == nil {
		r.operators[owner] = make(map[common.Address]bool)
	}
	r.operators[owner][operator] = approved
}

// OwnerOf implements domain.AssetGateway.
func (r *Registry) OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.assets[assetKey(contract, tokenID)]
	if !ok {
		return common.Address{}, domain.ErrNotFound
	}
	return st.owner, nil
}

// Approved implements domain.AssetGateway.
func (r *Registry) Approved(ctx context.Context, contract common.Address, tokenID *big.Int, operator common.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.assets[assetKey(contract, tokenID)]
	if !ok {
		return false, domain.ErrNotFound
	}
	return r.approvedLocked(st, operator), nil
}

func (r *Registry) approvedLocked(st *assetState, operator common.Address) bool {
	if st.approved == operator && operator != (common.Address{}) {
		return true
	}
	return r.operators[st.owner][operator]
}

// TransferFrom implements domain.AssetGateway. The transfer executes as the
// registry's configured operator and clears any per-token approval, matching
// ERC-721 semantics.
func (r *Registry) TransferFrom(ctx context.Context, contract common.Address, from, to common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.assets[assetKey(contract, tokenID)]
	if !ok {
		return domain.ErrNotFound
	}
	if st.owner != from {
		return domain.ErrNotOwner
	}
	if r.operator != from && !r.approvedLocked(st, r.operator) {
		return domain.ErrNotApproved
	}
	st.owner = to
	st.approved = common.Address{}
	return nil
}

// Compile-time interface check.
var _ domain.AssetGateway = (*Registry)(nil)
