package evm

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func testMessage() AuthorizationMessage {
	var nonce [32]byte
	nonce[31] = 1
	return AuthorizationMessage{
		From:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Value:       big.NewInt(10000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(99999999999),
		Nonce:       nonce,
	}
}

const (
	tokenName    = "USDC"
	tokenVersion = "2"
	chainID      = int64(84532)
)

var tokenAddr = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")

func TestSignAndRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := testMessage()
	msg.From = crypto.PubkeyToAddress(key.PublicKey)

	digest, err := HashTransferAuthorization(tokenName, tokenVersion, chainID, tokenAddr, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Recovery must accept both v conventions: raw 0/1 and wallet 27/28.
	recovered, err := RecoverAuthorizationSigner(tokenName, tokenVersion, chainID, tokenAddr, msg, sig)
	if err != nil {
		t.Fatalf("recover raw v: %v", err)
	}
	if recovered != msg.From {
		t.Errorf("recovered %s, want %s", recovered.Hex(), msg.From.Hex())
	}

	walletSig := make([]byte, 65)
	copy(walletSig, sig)
	walletSig[64] += 27
	recovered, err = RecoverAuthorizationSigner(tokenName, tokenVersion, chainID, tokenAddr, msg, walletSig)
	if err != nil {
		t.Fatalf("recover wallet v: %v", err)
	}
	if recovered != msg.From {
		t.Errorf("recovered %s, want %s", recovered.Hex(), msg.From.Hex())
	}
}

func TestDigestBindsDomainAndFields(t *testing.T) {
	msg := testMessage()
	base, err := HashTransferAuthorization(tokenName, tokenVersion, chainID, tokenAddr, msg)
	if err != nil {
		t.Fatal(err)
	}

	otherChain, _ := HashTransferAuthorization(tokenName, tokenVersion, 8453, tokenAddr, msg)
	if string(otherChain) == string(base) {
		t.Error("digest must change with the chain id")
	}

	otherName, _ := HashTransferAuthorization("USD Coin", tokenVersion, chainID, tokenAddr, msg)
	if string(otherName) == string(base) {
		t.Error("digest must change with the domain name")
	}

	tampered := msg
	tampered.Value = big.NewInt(10001)
	otherValue, _ := HashTransferAuthorization(tokenName, tokenVersion, chainID, tokenAddr, tampered)
	if string(otherValue) == string(base) {
		t.Error("digest must change with the value")
	}
}

func TestRecoverRejectsBadLength(t *testing.T) {
	_, err := RecoverAuthorizationSigner(tokenName, tokenVersion, chainID, tokenAddr, testMessage(), make([]byte, 64))
	if err == nil {
		t.Fatal("expected error for 64-byte signature")
	}
}

func TestSplitSignatureNormalizesV(t *testing.T) {
	sig := make([]byte, 65)
	sig[0] = 0xaa  // r
	sig[32] = 0xbb // s

	for _, tc := range []struct {
		in   byte
		want uint8
	}{{0, 27}, {1, 28}, {27, 27}, {28, 28}} {
		sig[64] = tc.in
		v, r, s, err := SplitSignature(sig)
		if err != nil {
			t.Fatalf("split v=%d: %v", tc.in, err)
		}
		if v != tc.want {
			t.Errorf("v = %d for input %d, want %d", v, tc.in, tc.want)
		}
		if r[0] != 0xaa || s[0] != 0xbb {
			t.Errorf("r/s bytes lost: %x %x", r[0], s[0])
		}
	}

	if _, _, _, err := SplitSignature(make([]byte, 10)); err == nil {
		t.Error("expected error for short signature")
	}
}

func TestParseSignature(t *testing.T) {
	raw := strings.Repeat("ab", 65)

	withPrefix, err := ParseSignature("0x" + raw)
	if err != nil || len(withPrefix) != 65 {
		t.Fatalf("with prefix: %d bytes, %v", len(withPrefix), err)
	}
	withoutPrefix, err := ParseSignature(raw)
	if err != nil || len(withoutPrefix) != 65 {
		t.Fatalf("without prefix: %d bytes, %v", len(withoutPrefix), err)
	}
	if _, err := ParseSignature("0xzz"); err == nil {
		t.Error("expected error for non-hex signature")
	}
}

func TestParseNonce(t *testing.T) {
	var want [32]byte
	want[31] = 5

	got, err := ParseNonce(hexutil.Encode(want[:]))
	if err != nil || got != want {
		t.Fatalf("ParseNonce = %x, %v", got, err)
	}
	// Prefix optional.
	got, err = ParseNonce(strings.TrimPrefix(hexutil.Encode(want[:]), "0x"))
	if err != nil || got != want {
		t.Fatalf("ParseNonce without prefix = %x, %v", got, err)
	}
	if _, err := ParseNonce("0x01"); err == nil {
		t.Error("expected error for short nonce")
	}
	if _, err := ParseNonce("0xzz"); err == nil {
		t.Error("expected error for non-hex nonce")
	}
}
