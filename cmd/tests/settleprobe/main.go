// Command settleprobe exercises a running facilitator end to end: it signs an
// EIP-3009 transfer authorization with a local key, calls POST /verify, and
// optionally POST /settle. Intended for staging checks against testnets.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/evm"
	"github.com/gaslift/facilitator/pkg/x402"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "facilitator base URL")
		network   = flag.String("network", "base-sepolia", "network name or CAIP-2 identifier")
		keyHex    = flag.String("key", os.Getenv("SETTLEPROBE_KEY"), "payer private key, 0x hex")
		payTo     = flag.String("pay-to", "", "recipient address")
		amount    = flag.String("amount", "10000", "transfer value in atomic units")
		validFor  = flag.Duration("valid-for", 10*time.Minute, "authorization validity window")
		settle    = flag.Bool("settle", false, "also call /settle after /verify")
	)
	flag.Parse()

	if *keyHex == "" {
		log.Fatal("key flag (or SETTLEPROBE_KEY) is required")
	}
	if !common.IsHexAddress(*payTo) {
		log.Fatal("pay-to flag must be a hex address")
	}

	chain, err := chains.Resolve(*network)
	if err != nil {
		log.Fatalf("resolve network: %v", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		log.Fatalf("parse key: %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	value, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		log.Fatalf("invalid amount %q", *amount)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		log.Fatalf("generate nonce: %v", err)
	}

	now := time.Now()
	msg := evm.AuthorizationMessage{
		From:        payer,
		To:          common.HexToAddress(*payTo),
		Value:       value,
		ValidAfter:  big.NewInt(now.Add(-time.Minute).Unix()),
		ValidBefore: big.NewInt(now.Add(*validFor).Unix()),
		Nonce:       nonce,
	}

	digest, err := evm.HashTransferAuthorization(
		chain.TokenName, chain.TokenVersion, chain.ID,
		common.HexToAddress(chain.USDCAddress), msg)
	if err != nil {
		log.Fatalf("hash authorization: %v", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		log.Fatalf("sign authorization: %v", err)
	}
	// Contracts and the facilitator expect v as 27/28.
	sig[64] += 27

	payload := x402.PaymentPayload{
		X402Version: x402.VersionV2,
		Scheme:      x402.SchemeExact,
		Network:     chain.Name,
		Payload: x402.ExactEvmPayload{
			Signature: hexutil.Encode(sig),
			Authorization: x402.TransferAuthorization{
				From:        payer.Hex(),
				To:          msg.To.Hex(),
				Value:       value.String(),
				ValidAfter:  msg.ValidAfter.String(),
				ValidBefore: msg.ValidBefore.String(),
				Nonce:       hexutil.Encode(nonce[:]),
			},
		},
	}
	reqs := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           chain.Name,
		MaxAmountRequired: value.String(),
		Resource:          "https://example.com/probe",
		PayTo:             msg.To.Hex(),
		MaxTimeoutSeconds: 120,
		Asset:             chain.USDCAddress,
	}

	log.Printf("payer %s, network %s (chain %d), nonce %s",
		payer.Hex(), chain.Name, chain.ID, hexutil.Encode(nonce[:]))

	baseURL := strings.TrimRight(*serverURL, "/")
	verdict := post(baseURL+"/verify", payload, reqs)
	log.Printf("verify response: %s", verdict)

	if *settle {
		receipt := post(baseURL+"/settle", payload, reqs)
		log.Printf("settle response: %s", receipt)
	}
}

func post(url string, payload x402.PaymentPayload, reqs x402.PaymentRequirements) string {
	body, err := json.Marshal(map[string]any{
		"x402Version":         payload.X402Version,
		"paymentPayload":      payload,
		"paymentRequirements": reqs,
	})
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, mustRead(resp), "", "  "); err != nil {
		log.Fatalf("parse response: %v", err)
	}
	if resp.StatusCode >= 500 {
		log.Fatalf("%s returned %s: %s", url, resp.Status, pretty.String())
	}
	return fmt.Sprintf("%s\n%s", resp.Status, pretty.String())
}

func mustRead(resp *http.Response) []byte {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		log.Fatalf("read response: %v", err)
	}
	return buf.Bytes()
}
