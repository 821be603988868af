// Package eth implements the asset custody gateway against an ERC-721
// contract over JSON-RPC. Reads go through eth_call; the custody transfer is
// submitted as a signed transaction from the marketplace operator account,
// which sellers approve before listing.
package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/nftbazaar/marketd/internal/domain"
)

// erc721ABI covers the subset of the ERC-721 interface the gateway consumes.
const erc721ABI = `[
	{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"getApproved","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

// receiptPollInterval is how often SendAndWait polls for a mined receipt.
const receiptPollInterval = 2 * time.Second

// Config holds connection and signing parameters for the gateway.
type Config struct {
	RPCURL         string
	ChainID        int64
	OperatorKeyHex string        // hex-encoded operator private key
	ReceiptTimeout time.Duration // how long to wait for the transfer to mine
}

// Gateway implements domain.AssetGateway over an Ethereum JSON-RPC endpoint.
type Gateway struct {
	client      *ethclient.Client
	parsedABI   abi.ABI
	operatorKey *ecdsa.PrivateKey
	operator    common.Address
	chainID     *big.Int
	timeout     time.Duration
	logger      *slog.Logger
}

// New dials the RPC endpoint and prepares the operator transactor.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("eth: parse ABI: %w", err)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("eth: operator key: %w", err)
	}

	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Gateway{
		client:      client,
		parsedABI:   parsed,
		operatorKey: key,
		operator:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:     big.NewInt(cfg.ChainID),
		timeout:     timeout,
		logger:      logger.With(slog.String("component", "eth_gateway")),
	}, nil
}

// Operator returns the address the gateway transacts as.
func (g *Gateway) Operator() common.Address {
	return g.operator
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() {
	g.client.Close()
}

// OwnerOf implements domain.AssetGateway.
func (g *Gateway) OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	var owner common.Address
	if err := g.call(ctx, contract, "ownerOf", &owner, tokenID); err != nil {
		return common.Address{}, fmt.Errorf("eth: ownerOf %s: %w", tokenID, err)
	}
	return owner, nil
}

// Approved implements domain.AssetGateway. It checks the per-token approval
// first and falls back to the blanket operator approval.
func (g *Gateway) Approved(ctx context.Context, contract common.Address, tokenID *big.Int, operator common.Address) (bool, error) {
	var approved common.Address
	if err := g.call(ctx, contract, "getApproved", &approved, tokenID); err != nil {
		return false, fmt.Errorf("eth: getApproved %s: %w", tokenID, err)
	}
	if approved == operator {
		return true, nil
	}

	owner, err := g.OwnerOf(ctx, contract, tokenID)
	if err != nil {
		return false, err
	}
	var all bool
	if err := g.call(ctx, contract, "isApprovedForAll", &all, owner, operator); err != nil {
		return false, fmt.Errorf("eth: isApprovedForAll: %w", err)
	}
	return all, nil
}

// TransferFrom implements domain.AssetGateway. It submits the transfer as
// the operator and blocks until the transaction mines; a reverted receipt is
// reported as ErrNotApproved since a revert here almost always means the
// approval was revoked or ownership changed since listing.
func (g *Gateway) TransferFrom(ctx context.Context, contract common.Address, from, to common.Address, tokenID *big.Int) error {
	data, err := g.parsedABI.Pack("transferFrom", from, to, tokenID)
	if err != nil {
		return fmt.Errorf("eth: pack transferFrom: %w", err)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.operator)
	if err != nil {
		return fmt.Errorf("eth: pending nonce: %w", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("eth: suggest gas price: %w", err)
	}
	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From: g.operator,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		// Estimation runs the call; a failure here is the revert surfaced
		// before spending gas.
		return fmt.Errorf("eth: transfer would revert: %w", domain.ErrNotApproved)
	}

	tx, err := types.SignNewTx(g.operatorKey, types.LatestSignerForChainID(g.chainID), &types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("eth: sign transfer: %w", err)
	}
	if err := g.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("eth: send transfer: %w", err)
	}

	g.logger.InfoContext(ctx, "custody transfer submitted",
		slog.String("tx", tx.Hash().Hex()),
		slog.String("token_id", tokenID.String()),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
	)

	receipt, err := g.waitMined(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("eth: wait for transfer %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("eth: transfer %s reverted: %w", tx.Hash().Hex(), domain.ErrNotApproved)
	}
	return nil
}

// call executes a read-only contract method and unpacks the single result
// into out.
func (g *Gateway) call(ctx context.Context, contract common.Address, method string, out any, args ...any) error {
	data, err := g.parsedABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	results, err := g.parsedABI.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(results) != 1 {
		return fmt.Errorf("unpack %s: expected 1 result, got %d", method, len(results))
	}

	switch dst := out.(type) {
	case *common.Address:
		v, ok := results[0].(common.Address)
		if !ok {
			return fmt.Errorf("unpack %s: unexpected type %T", method, results[0])
		}
		*dst = v
	case *bool:
		v, ok := results[0].(bool)
		if !ok {
			return fmt.Errorf("unpack %s: unexpected type %T", method, results[0])
		}
		*dst = v
	default:
		return fmt.Errorf("unpack %s: unsupported destination %T", method, out)
	}
	return nil
}

// waitMined polls for the transaction receipt until it lands or the timeout
// elapses.
func (g *Gateway) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ domain.AssetGateway = (*Gateway)(nil)
