// Package scheme validates x402 payment envelopes before any chain I/O:
// protocol version, scheme agreement, and network normalization. Downstream
// components only ever see the canonical chain entry this package resolves.
package scheme

import (
	"fmt"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/errors"
	"github.com/gaslift/facilitator/pkg/x402"
)

// Router owns the capability set the facilitator advertises and the envelope
// checks every verify/settle request passes through.
type Router struct {
	enabled map[int64]chains.Chain

	// deferredEscrow is the escrow contract for the deferred scheme. The
	// scheme is only advertised when an escrow is configured.
	deferredEscrow string
}

// NewRouter creates a router over the enabled chains.
func NewRouter(enabled []chains.Chain, deferredEscrow string) *Router {
	byID := make(map[int64]chains.Chain, len(enabled))
	for _, c := range enabled {
		byID[c.ID] = c
	}
	return &Router{enabled: byID, deferredEscrow: deferredEscrow}
}

// Validate checks the request envelope and returns the canonical chain both
// payload and requirements resolve to. Every rejection happens here, before
// any network I/O.
func (r *Router) Validate(payload x402.PaymentPayload, reqs x402.PaymentRequirements) (chains.Chain, error) {
	if payload.X402Version != x402.VersionV1 && payload.X402Version != x402.VersionV2 {
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeInvalidVersion,
			fmt.Errorf("unsupported x402 version %d", payload.X402Version))
	}

	switch payload.Scheme {
	case x402.SchemeExact:
	case x402.SchemeDeferred:
		// Deferred is advertised when an escrow is configured, but escrow
		// settlement runs elsewhere; this execution path only settles exact.
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeUnsupportedScheme,
			fmt.Errorf("deferred settlement is not handled by this endpoint"))
	default:
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeUnsupportedScheme,
			fmt.Errorf("unknown scheme %q", payload.Scheme))
	}

	if reqs.Scheme != "" && reqs.Scheme != payload.Scheme {
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeSchemeMismatch,
			fmt.Errorf("payload scheme %q, requirements scheme %q", payload.Scheme, reqs.Scheme))
	}

	payloadChain, err := chains.Resolve(payload.Network)
	if err != nil {
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeUnsupportedNetwork, err)
	}
	reqChain, err := chains.Resolve(reqs.Network)
	if err != nil {
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeUnsupportedNetwork, err)
	}

	// Legacy names and CAIP-2 identifiers are interchangeable on the wire;
	// agreement is judged on the resolved chain id.
	if payloadChain.ID != reqChain.ID {
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeNetworkMismatch,
			fmt.Errorf("payload network %s (chain %d), requirements network %s (chain %d)",
				payload.Network, payloadChain.ID, reqs.Network, reqChain.ID))
	}

	if _, ok := r.enabled[payloadChain.ID]; !ok {
		return chains.Chain{}, x402.NewVerificationError(errors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("network %s is not enabled on this facilitator", payloadChain.Name))
	}

	return payloadChain, nil
}

// Supported returns every (scheme, network) pair this facilitator settles,
// in chain-registry order.
func (r *Router) Supported() []x402.SupportedKind {
	var kinds []x402.SupportedKind
	for _, c := range chains.All() {
		if _, ok := r.enabled[c.ID]; !ok {
			continue
		}
		kinds = append(kinds, x402.SupportedKind{
			X402Version: x402.VersionV2,
			Scheme:      x402.SchemeExact,
			Network:     c.Name,
		})
		if r.deferredEscrow != "" {
			kinds = append(kinds, x402.SupportedKind{
				X402Version: x402.VersionV2,
				Scheme:      x402.SchemeDeferred,
				Network:     c.Name,
			})
		}
	}
	return kinds
}
