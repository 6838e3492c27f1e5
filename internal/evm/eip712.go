package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TransferWithAuthorizationTypes is the EIP-712 type set for EIP-3009.
var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// AuthorizationMessage carries the typed EIP-3009 fields in on-chain form.
type AuthorizationMessage struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// HashTransferAuthorization computes the EIP-712 digest the payer signed:
// keccak256("\x19\x01" || domainSeparator || structHash) over the token's
// domain (name, version, chainId, verifyingContract).
func HashTransferAuthorization(
	tokenName, tokenVersion string,
	chainID int64,
	token common.Address,
	msg AuthorizationMessage,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        msg.From.Hex(),
			"to":          msg.To.Hex(),
			"value":       msg.Value.String(),
			"validAfter":  msg.ValidAfter.String(),
			"validBefore": msg.ValidBefore.String(),
			"nonce":       hexutil.Encode(msg.Nonce[:]),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("evm: hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("evm: hash message: %w", err)
	}

	raw := append([]byte("\x19\x01"), append(domainSeparator, structHash...)...)
	return crypto.Keccak256(raw), nil
}

// RecoverAuthorizationSigner recovers the address that produced the given
// 65-byte signature over the EIP-712 digest of the authorization.
func RecoverAuthorizationSigner(
	tokenName, tokenVersion string,
	chainID int64,
	token common.Address,
	msg AuthorizationMessage,
	signature []byte,
) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("evm: signature must be 65 bytes, got %d", len(signature))
	}

	digest, err := HashTransferAuthorization(tokenName, tokenVersion, chainID, token, msg)
	if err != nil {
		return common.Address{}, err
	}

	// Wallets emit v as 27/28; crypto.SigToPub wants 0/1.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature decomposes a 65-byte r||s||v signature into contract-call
// form, normalizing v to 27/28 as EIP-3009 contracts expect.
func SplitSignature(signature []byte) (v uint8, r, s [32]byte, err error) {
	if len(signature) != 65 {
		return 0, r, s, fmt.Errorf("evm: signature must be 65 bytes, got %d", len(signature))
	}
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v = signature[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

// ParseSignature decodes a 0x-prefixed hex signature string.
func ParseSignature(hexSig string) ([]byte, error) {
	raw := strings.TrimSpace(hexSig)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	sig, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("evm: decode signature: %w", err)
	}
	return sig, nil
}

// ParseNonce decodes a 0x-prefixed 32-byte hex nonce.
func ParseNonce(hexNonce string) ([32]byte, error) {
	var nonce [32]byte
	raw := strings.TrimSpace(hexNonce)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nonce, fmt.Errorf("evm: decode nonce: %w", err)
	}
	if len(b) != 32 {
		return nonce, fmt.Errorf("evm: nonce must be 32 bytes, got %d", len(b))
	}
	copy(nonce[:], b)
	return nonce, nil
}
