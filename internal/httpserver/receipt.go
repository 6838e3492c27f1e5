package httpserver

import (
	"time"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/settlement"
	"github.com/gaslift/facilitator/internal/verifier"
)

// settleReceipt is the V2 settlement receipt body.
type settleReceipt struct {
	Version    string            `json:"version"`
	RequestID  string            `json:"requestId"`
	Timestamp  time.Time         `json:"timestamp"`
	Network    receiptNetwork    `json:"network"`
	Payment    receiptPayment    `json:"payment"`
	Settlement receiptSettlement `json:"settlement"`
}

type receiptNetwork struct {
	Name    string `json:"name"`
	ChainID int64  `json:"chainId"`
	CAIP2   string `json:"caip2"`
}

type receiptPayment struct {
	Scheme string `json:"scheme"`
	Payer  string `json:"payer"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type receiptSettlement struct {
	Success       bool   `json:"success"`
	Transaction   string `json:"transaction,omitempty"`
	BlockExplorer string `json:"blockExplorer,omitempty"`
	Note          string `json:"note,omitempty"`
	ErrorReason   string `json:"errorReason,omitempty"`
}

// receiptFromOutcome renders a terminal settlement outcome as a receipt.
func receiptFromOutcome(requestID string, chain chains.Chain, scheme string, p verifier.Payment, out settlement.Outcome) settleReceipt {
	r := settleReceipt{
		Version:   protocolVersion,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Network: receiptNetwork{
			Name:    chain.Name,
			ChainID: chain.ID,
			CAIP2:   chain.CAIP2,
		},
		Payment: receiptPayment{
			Scheme: scheme,
			Payer:  p.From.Hex(),
			Amount: p.Value.String(),
			Asset:  p.Token.Hex(),
		},
		Settlement: receiptSettlement{
			Success:       out.Success,
			Transaction:   out.TxHash,
			BlockExplorer: chain.ExplorerTx(out.TxHash),
			Note:          out.Note,
		},
	}
	if !out.Success {
		r.Settlement.ErrorReason = out.Reason
		if r.Settlement.ErrorReason == "" {
			r.Settlement.ErrorReason = string(out.Code)
		}
	}
	return r
}

// failedReceipt renders an envelope-level rejection in the receipt shape.
// Network and payer are echoed only to the extent the request named them.
func failedReceipt(requestID string, req paymentRequest, reason string) settleReceipt {
	r := settleReceipt{
		Version:   protocolVersion,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Payment: receiptPayment{
			Scheme: req.PaymentPayload.Scheme,
		},
		Settlement: receiptSettlement{
			Success:     false,
			ErrorReason: reason,
		},
	}
	if chain, err := chains.Resolve(req.PaymentPayload.Network); err == nil {
		r.Network = receiptNetwork{Name: chain.Name, ChainID: chain.ID, CAIP2: chain.CAIP2}
	} else {
		r.Network = receiptNetwork{Name: req.PaymentPayload.Network}
	}
	if exact, err := req.PaymentPayload.ExactPayload(); err == nil {
		r.Payment.Payer = exact.Authorization.From
		r.Payment.Amount = exact.Authorization.Value
	}
	return r
}
