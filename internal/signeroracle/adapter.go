package signeroracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/sponsor"
)

// ErrReverted reports a mined transaction whose receipt has status 0.
var ErrReverted = errors.New("transaction reverted")

// Result is the outcome of one mined transfer.
type Result struct {
	TxHash     string
	GasUsed    uint64
	GasCostWei *big.Int
}

// Transfer describes one EIP-3009 transfer to execute on-chain.
type Transfer struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	Signature   []byte // payer's 65-byte EIP-712 signature
}

// Adapter executes transfers through the oracle and waits for them to mine.
type Adapter struct {
	oracle         Oracle
	pool           *evm.Pool
	receiptPoll    time.Duration
	receiptTimeout time.Duration
}

// NewAdapter creates an adapter over an oracle and an RPC client pool.
func NewAdapter(oracle Oracle, pool *evm.Pool, receiptPoll, receiptTimeout time.Duration) *Adapter {
	if receiptPoll <= 0 {
		receiptPoll = 2 * time.Second
	}
	if receiptTimeout <= 0 {
		receiptTimeout = 90 * time.Second
	}
	return &Adapter{
		oracle:         oracle,
		pool:           pool,
		receiptPoll:    receiptPoll,
		receiptTimeout: receiptTimeout,
	}
}

// Execute submits transferWithAuthorization through the oracle from the
// sponsor's wallet and waits for the receipt. A reverted receipt is an error;
// the transfer did not happen.
func (a *Adapter) Execute(ctx context.Context, chain chains.Chain, wallet sponsor.SponsorWallet, tr Transfer) (Result, error) {
	client, err := a.pool.Client(chain)
	if err != nil {
		return Result{}, fmt.Errorf("rpc client for %s: %w", chain.Name, err)
	}

	v, r, s, err := evm.SplitSignature(tr.Signature)
	if err != nil {
		return Result{}, err
	}

	calldata, err := evm.PackTransferWithAuthorization(tr.From, tr.To, tr.Value, tr.ValidAfter, tr.ValidBefore, tr.Nonce, v, r, s)
	if err != nil {
		return Result{}, err
	}

	txHash, err := a.oracle.Submit(ctx, SubmitRequest{
		Handle:    wallet.SignerHandle,
		UserShare: wallet.SignerUserShare,
		ChainID:   chain.ID,
		To:        tr.Token.Hex(),
		Data:      "0x" + common.Bytes2Hex(calldata),
		Network:   chain.Name,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit transfer: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.receiptTimeout)
	defer cancel()

	receipt, err := client.WaitForReceipt(waitCtx, common.HexToHash(txHash), a.receiptPoll)
	if err != nil {
		// The hash is known even though confirmation failed; reconciliation
		// can still find the transfer.
		return Result{TxHash: txHash}, fmt.Errorf("wait for receipt: %w", err)
	}

	result := Result{
		TxHash:  txHash,
		GasUsed: receipt.GasUsed,
	}
	if receipt.EffectiveGasPrice != nil {
		result.GasCostWei = new(big.Int).Mul(
			new(big.Int).SetUint64(receipt.GasUsed),
			receipt.EffectiveGasPrice,
		)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("tx_hash", logger.TruncateAddress(txHash)).
			Str("network", chain.Name).
			Uint64("gas_used", receipt.GasUsed).
			Msg("oracle.transfer_reverted")
		return result, fmt.Errorf("%w: %s", ErrReverted, txHash)
	}
	return result, nil
}
