package mem

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// Bank is an in-memory payment ledger with simple account balances.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]*big.Int)}
}

// Deposit credits an account. Used by tests and the demo mode to fund
// buyers.
func (b *Bank) Deposit(account common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(account, amount)
}

// Transfer implements domain.Bank. It debits from and credits to as one
// atomic step, failing with ErrInsufficientFunds when from cannot cover the
// amount.
func (b *Bank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidPrice
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

// BalanceOf implements domain.Bank.
func (b *Bank) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balances[account]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// credit adds amount to an account balance. Callers must hold b.mu.
func (b *Bank) credit(account common.Address, amount *big.Int) {
	if b.balances[account] == nil {
		b.balances[account] = big.NewInt(0)
	}
	b.balances[account].Add(b.balances[account], amount)
}

// Compile-time interface check.
var _ domain.Bank = (*Bank)(nil)
