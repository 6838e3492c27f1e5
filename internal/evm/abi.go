package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABI surface of an EIP-3009 token: the two read-only views the
// verifier needs, the single write the facilitator performs, and the Transfer
// event scanned during reconciliation.
const usdcABIJSON = `[
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"authorizer","type":"address"},{"internalType":"bytes32","name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"uint256","name":"validAfter","type":"uint256"},{"internalType":"uint256","name":"validBefore","type":"uint256"},{"internalType":"bytes32","name":"nonce","type":"bytes32"},{"internalType":"uint8","name":"v","type":"uint8"},{"internalType":"bytes32","name":"r","type":"bytes32"},{"internalType":"bytes32","name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"from","type":"address"},{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

var (
	usdcABI abi.ABI

	// TransferTopic is the keccak hash of Transfer(address,address,uint256).
	TransferTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(usdcABIJSON))
	if err != nil {
		panic(fmt.Sprintf("evm: parse usdc abi: %v", err))
	}
	usdcABI = parsed
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
}

// PackTransferWithAuthorization builds the calldata for the EIP-3009
// transferWithAuthorization(from, to, value, validAfter, validBefore, nonce, v, r, s) call.
func PackTransferWithAuthorization(
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	v uint8,
	r, s [32]byte,
) ([]byte, error) {
	data, err := usdcABI.Pack("transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, v, r, s)
	if err != nil {
		return nil, fmt.Errorf("evm: pack transferWithAuthorization: %w", err)
	}
	return data, nil
}

func packBalanceOf(account common.Address) ([]byte, error) {
	return usdcABI.Pack("balanceOf", account)
}

func packAuthorizationState(authorizer common.Address, nonce [32]byte) ([]byte, error) {
	return usdcABI.Pack("authorizationState", authorizer, nonce)
}

func unpackBalanceOf(result []byte) (*big.Int, error) {
	var balance *big.Int
	if err := usdcABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("evm: unpack balanceOf: %w", err)
	}
	return balance, nil
}

func unpackAuthorizationState(result []byte) (bool, error) {
	var used bool
	if err := usdcABI.UnpackIntoInterface(&used, "authorizationState", result); err != nil {
		return false, fmt.Errorf("evm: unpack authorizationState: %w", err)
	}
	return used, nil
}
