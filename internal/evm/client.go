package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/circuitbreaker"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
	"github.com/gaslift/facilitator/internal/rpcutil"
)

// callTimeout bounds every individual JSON-RPC call.
const callTimeout = 30 * time.Second

// Client is a read-oriented JSON-RPC client for one chain. All transaction
// submission goes through the signer oracle, so this client never holds keys
// and never sends transactions.
type Client struct {
	chain    chains.Chain
	eth      *ethclient.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// Dial connects to the chain's JSON-RPC endpoint. An empty rpcURL uses the
// chain's default endpoint.
func Dial(chain chains.Chain, rpcURL string, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*Client, error) {
	if rpcURL == "" {
		rpcURL = chain.RPCURL
	}

	httpClient := &http.Client{Timeout: callTimeout}
	rpcClient, err := rpc.DialHTTPWithClient(rpcURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s rpc: %w", chain.Name, err)
	}

	return &Client{
		chain:    chain,
		eth:      ethclient.NewClient(rpcClient),
		breakers: breakers,
		metrics:  m,
	}, nil
}

// Chain returns the chain this client talks to.
func (c *Client) Chain() chains.Chain {
	return c.chain
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call runs one RPC operation under the circuit breaker with a per-call
// deadline, recording duration and outcome.
func call[T any](ctx context.Context, c *Client, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	result, err := c.breakers.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
		return fn(ctx)
	})
	if c.metrics != nil {
		c.metrics.ObserveRPCCall(method, c.chain.Name, time.Since(start), err)
	}

	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("method", method).
			Str("network", c.chain.Name).
			Msg("rpc.call_failed")
		return zero, err
	}
	return result.(T), nil
}

// BalanceOf reads the token balance of an account.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return rpcutil.WithRetry(ctx, func() (*big.Int, error) {
		return call(ctx, c, "balanceOf", func(ctx context.Context) (*big.Int, error) {
			data, err := packBalanceOf(account)
			if err != nil {
				return nil, err
			}
			result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
			if err != nil {
				return nil, fmt.Errorf("evm: call balanceOf: %w", err)
			}
			return unpackBalanceOf(result)
		})
	})
}

// AuthorizationState reports whether an EIP-3009 nonce has been used or
// canceled by the authorizer.
func (c *Client) AuthorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	return rpcutil.WithRetry(ctx, func() (bool, error) {
		return call(ctx, c, "authorizationState", func(ctx context.Context) (bool, error) {
			data, err := packAuthorizationState(authorizer, nonce)
			if err != nil {
				return false, err
			}
			result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
			if err != nil {
				return false, fmt.Errorf("evm: call authorizationState: %w", err)
			}
			return unpackAuthorizationState(result)
		})
	})
}

// NativeBalance reads the native (gas) balance of an account in wei.
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return rpcutil.WithRetry(ctx, func() (*big.Int, error) {
		return call(ctx, c, "getBalance", func(ctx context.Context) (*big.Int, error) {
			return c.eth.BalanceAt(ctx, account, nil)
		})
	})
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, "blockNumber", func(ctx context.Context) (uint64, error) {
		return c.eth.BlockNumber(ctx)
	})
}

// TransactionReceipt fetches the receipt for a mined transaction. Returns
// ethereum.NotFound while the transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, c, "getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, txHash)
	})
}

// WaitForReceipt polls for a transaction receipt until it is mined or the
// context expires.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, poll time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evm: wait for receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// FindTransfer scans recent blocks for a Transfer(from, to, value) event on
// the token and returns the transaction hash that emitted it. Used by
// reconciliation to recover the settlement hash when the submitter lost it.
func (c *Client) FindTransfer(ctx context.Context, token, from, to common.Address, value *big.Int, lookback int64) (common.Hash, bool, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, false, err
	}

	fromBlock := new(big.Int).SetUint64(head)
	if int64(head) > lookback {
		fromBlock = big.NewInt(int64(head) - lookback)
	} else {
		fromBlock = big.NewInt(0)
	}

	query := ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{token},
		Topics: [][]common.Hash{
			{TransferTopic},
			{common.BytesToHash(from.Bytes())},
			{common.BytesToHash(to.Bytes())},
		},
	}

	logs, err := call(ctx, c, "getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.eth.FilterLogs(ctx, query)
	})
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("evm: filter transfer logs: %w", err)
	}

	// Newest first: the settlement we are reconciling is the most recent
	// matching transfer.
	for i := len(logs) - 1; i >= 0; i-- {
		lg := logs[i]
		if len(lg.Data) < 32 {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data[:32])
		if value == nil || amount.Cmp(value) == 0 {
			return lg.TxHash, true, nil
		}
	}
	return common.Hash{}, false, nil
}
