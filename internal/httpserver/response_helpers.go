package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/quota"
	"github.com/gaslift/facilitator/pkg/x402"
)

// protocolVersion is the facilitator release advertised on every response.
const protocolVersion = "2.0.0"

func setProtocolHeaders(w http.ResponseWriter, requestID string) {
	w.Header().Set("X-x402-Version", protocolVersion)
	w.Header().Set("X-x402-Request-Id", requestID)
}

func setNetworkHeaders(w http.ResponseWriter, chain chains.Chain, scheme string) {
	w.Header().Set("X-x402-Network", chain.Name)
	w.Header().Set("X-x402-Chain-Id", strconv.FormatInt(chain.ID, 10))
	w.Header().Set("X-x402-CAIP2", chain.CAIP2)
	w.Header().Set("X-x402-Scheme", scheme)
}

func writeRateHeaders(w http.ResponseWriter, res quota.RateResult) {
	if res.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// addSettlementHeader mirrors the settle outcome into X-PAYMENT-RESPONSE,
// base64 JSON, so resource servers can forward it to clients verbatim.
func addSettlementHeader(w http.ResponseWriter, resp x402.SettleResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	w.Header().Set("X-PAYMENT-RESPONSE", base64.StdEncoding.EncodeToString(data))
}

// acceptsFor echoes the vendor's requirements as the accepts array of a 402
// response.
func acceptsFor(reqs x402.PaymentRequirements) []x402.PaymentRequirements {
	if reqs.Network == "" && reqs.PayTo == "" {
		return []x402.PaymentRequirements{}
	}
	return []x402.PaymentRequirements{reqs}
}
