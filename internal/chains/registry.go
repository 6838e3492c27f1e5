package chains

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Chain describes one supported EVM network. All fields are compile-time
// constants; RPC URLs may be overridden by configuration at startup.
type Chain struct {
	// Name is the legacy x402 network identifier, e.g. "base-sepolia".
	Name string

	// ID is the EIP-155 chain id.
	ID int64

	// CAIP2 is the chain-agnostic identifier, "eip155:<chainId>".
	CAIP2 string

	// RPCURL is the default JSON-RPC endpoint.
	RPCURL string

	// USDCAddress is the canonical USDC contract on this chain.
	USDCAddress string

	// TokenName and TokenVersion are the EIP-712 domain parameters the USDC
	// deployment on this chain reports. Celo reports "USDC"; Circle-native
	// deployments elsewhere report "USD Coin". Table-driven because future
	// chains may differ.
	TokenName    string
	TokenVersion string

	// ExplorerTxURL is a block-explorer template with one %s for the tx hash.
	ExplorerTxURL string

	// BlockTime is the nominal block interval, used to size the
	// reconciliation log-scan window to roughly one minute of blocks.
	BlockTime time.Duration
}

// Supported networks.
var registry = []Chain{
	{
		Name:          "base",
		ID:            8453,
		CAIP2:         "eip155:8453",
		RPCURL:        "https://mainnet.base.org",
		USDCAddress:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TokenName:     "USD Coin",
		TokenVersion:  "2",
		ExplorerTxURL: "https://basescan.org/tx/%s",
		BlockTime:     2 * time.Second,
	},
	{
		Name:          "base-sepolia",
		ID:            84532,
		CAIP2:         "eip155:84532",
		RPCURL:        "https://sepolia.base.org",
		USDCAddress:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenName:     "USDC",
		TokenVersion:  "2",
		ExplorerTxURL: "https://sepolia.basescan.org/tx/%s",
		BlockTime:     2 * time.Second,
	},
	{
		Name:          "avalanche",
		ID:            43114,
		CAIP2:         "eip155:43114",
		RPCURL:        "https://api.avax.network/ext/bc/C/rpc",
		USDCAddress:   "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		TokenName:     "USD Coin",
		TokenVersion:  "2",
		ExplorerTxURL: "https://snowtrace.io/tx/%s",
		BlockTime:     2 * time.Second,
	},
	{
		Name:          "avalanche-fuji",
		ID:            43113,
		CAIP2:         "eip155:43113",
		RPCURL:        "https://api.avax-test.network/ext/bc/C/rpc",
		USDCAddress:   "0x5425890298aed601595a70AB815c96711a31Bc65",
		TokenName:     "USD Coin",
		TokenVersion:  "2",
		ExplorerTxURL: "https://testnet.snowtrace.io/tx/%s",
		BlockTime:     2 * time.Second,
	},
	{
		Name:          "polygon",
		ID:            137,
		CAIP2:         "eip155:137",
		RPCURL:        "https://polygon-rpc.com",
		USDCAddress:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		TokenName:     "USD Coin",
		TokenVersion:  "2",
		ExplorerTxURL: "https://polygonscan.com/tx/%s",
		BlockTime:     2 * time.Second,
	},
	{
		Name:          "polygon-amoy",
		ID:            80002,
		CAIP2:         "eip155:80002",
		RPCURL:        "https://rpc-amoy.polygon.technology",
		USDCAddress:   "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		TokenName:     "USDC",
		TokenVersion:  "2",
		ExplorerTxURL: "https://amoy.polygonscan.com/tx/%s",
		BlockTime:     2 * time.Second,
	},
	{
		Name:          "ethereum",
		ID:            1,
		CAIP2:         "eip155:1",
		RPCURL:        "https://eth.llamarpc.com",
		USDCAddress:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		TokenName:     "USD Coin",
		TokenVersion:  "2",
		ExplorerTxURL: "https://etherscan.io/tx/%s",
		BlockTime:     12 * time.Second,
	},
	{
		Name:          "sepolia",
		ID:            11155111,
		CAIP2:         "eip155:11155111",
		RPCURL:        "https://rpc.sepolia.org",
		USDCAddress:   "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		TokenName:     "USDC",
		TokenVersion:  "2",
		ExplorerTxURL: "https://sepolia.etherscan.io/tx/%s",
		BlockTime:     12 * time.Second,
	},
	{
		Name:          "celo",
		ID:            42220,
		CAIP2:         "eip155:42220",
		RPCURL:        "https://forno.celo.org",
		USDCAddress:   "0xcebA9300f2b948710d2653dD7B07f33A8B32118C",
		TokenName:     "USDC",
		TokenVersion:  "2",
		ExplorerTxURL: "https://celoscan.io/tx/%s",
		BlockTime:     5 * time.Second,
	},
}

var (
	byName  = make(map[string]Chain, len(registry))
	byCAIP2 = make(map[string]Chain, len(registry))
	byID    = make(map[int64]Chain, len(registry))
)

func init() {
	for _, c := range registry {
		byName[c.Name] = c
		byCAIP2[c.CAIP2] = c
		byID[c.ID] = c
	}
}

// ErrNotSupported reports a network outside the supported set.
type ErrNotSupported struct {
	Network string
}

func (e ErrNotSupported) Error() string {
	return fmt.Sprintf("chains: network %q not supported", e.Network)
}

// Resolve maps a network identifier, legacy name or CAIP-2, to its chain entry.
func Resolve(network string) (Chain, error) {
	network = strings.TrimSpace(network)
	if network == "" {
		return Chain{}, ErrNotSupported{Network: network}
	}
	if c, ok := byName[network]; ok {
		return c, nil
	}
	if c, ok := byCAIP2[network]; ok {
		return c, nil
	}
	// Tolerate CAIP-2 forms with a numeric reference we have under another key.
	if strings.HasPrefix(network, "eip155:") {
		if id, err := strconv.ParseInt(strings.TrimPrefix(network, "eip155:"), 10, 64); err == nil {
			if c, ok := byID[id]; ok {
				return c, nil
			}
		}
	}
	return Chain{}, ErrNotSupported{Network: network}
}

// ResolveID maps an EIP-155 chain id to its chain entry.
func ResolveID(id int64) (Chain, error) {
	if c, ok := byID[id]; ok {
		return c, nil
	}
	return Chain{}, ErrNotSupported{Network: fmt.Sprintf("eip155:%d", id)}
}

// All returns every supported chain in registration order.
func All() []Chain {
	out := make([]Chain, len(registry))
	copy(out, registry)
	return out
}

// ExplorerTx renders the block-explorer URL for a transaction hash.
// Returns "" for an empty hash: reconciliation can conclude success without
// ever recovering the hash, and the receipt must not link to a dead page.
func (c Chain) ExplorerTx(txHash string) string {
	if txHash == "" {
		return ""
	}
	return fmt.Sprintf(c.ExplorerTxURL, txHash)
}

// LogScanBlocks sizes the reconciliation log-scan window to roughly the given
// duration of blocks on this chain.
func (c Chain) LogScanBlocks(window time.Duration) int64 {
	if c.BlockTime <= 0 {
		return 30
	}
	blocks := int64(window / c.BlockTime)
	if blocks < 1 {
		blocks = 1
	}
	return blocks
}
