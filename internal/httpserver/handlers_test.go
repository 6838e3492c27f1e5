package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/config"
	apierrors "github.com/gaslift/facilitator/internal/errors"
	"github.com/gaslift/facilitator/internal/metrics"
	"github.com/gaslift/facilitator/internal/quota"
	"github.com/gaslift/facilitator/internal/scheme"
	"github.com/gaslift/facilitator/internal/settlement"
	"github.com/gaslift/facilitator/internal/verifier"
	"github.com/gaslift/facilitator/pkg/x402"
)

const (
	testPayer = "0x1111111111111111111111111111111111111111"
	testPayTo = "0x2222222222222222222222222222222222222222"
	testSig   = "0x" +
		"1111111111111111111111111111111111111111111111111111111111111111" +
		"1111111111111111111111111111111111111111111111111111111111111111" + "1b"
	testNonce = "0x0000000000000000000000000000000000000000000000000000000000000007"
)

type stubVerifier struct {
	err error
}

func (s stubVerifier) Verify(_ context.Context, _ verifier.Payment) error {
	return s.err
}

type stubSettler struct {
	outcome settlement.Outcome
	called  bool
}

func (s *stubSettler) Settle(_ context.Context, _ verifier.Payment, _ x402.PaymentRequirements) settlement.Outcome {
	s.called = true
	return s.outcome
}

func newTestHandlers(v PaymentVerifier, engine Settler, gate *quota.Gate) *handlers {
	return &handlers{
		cfg:      &config.Config{},
		router:   scheme.NewRouter(chains.All(), ""),
		verifier: v,
		engine:   engine,
		gate:     gate,
		logger:   zerolog.Nop(),
	}
}

func validRequest() paymentRequest {
	return paymentRequest{
		X402Version: x402.VersionV2,
		PaymentPayload: x402.PaymentPayload{
			X402Version: x402.VersionV2,
			Scheme:      x402.SchemeExact,
			Network:     "base-sepolia",
			Payload: x402.ExactEvmPayload{
				Signature: testSig,
				Authorization: x402.TransferAuthorization{
					From:        testPayer,
					To:          testPayTo,
					Value:       "10000",
					ValidAfter:  "0",
					ValidBefore: "99999999999",
					Nonce:       testNonce,
				},
			},
		},
		PaymentRequirements: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           "base-sepolia",
			MaxAmountRequired: "10000",
			Resource:          "https://vendor.example/data",
			PayTo:             testPayTo,
			MaxTimeoutSeconds: 60,
		},
	}
}

func post(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestVerifyValid(t *testing.T) {
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, nil)

	rec := post(t, h.verify, validRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeBody[x402.VerifyResponse](t, rec)
	if !resp.IsValid {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.EqualFold(resp.Payer, testPayer) {
		t.Errorf("payer = %q", resp.Payer)
	}
	if rec.Header().Get("X-x402-Network") != "base-sepolia" {
		t.Errorf("network header = %q", rec.Header().Get("X-x402-Network"))
	}
	if rec.Header().Get("X-x402-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestVerifyInvalidVerdictIs200(t *testing.T) {
	verr := x402.NewVerificationError(apierrors.ErrCodeInsufficientBalance, nil)
	h := newTestHandlers(stubVerifier{err: verr}, &stubSettler{}, nil)

	rec := post(t, h.verify, validRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, verdicts travel in a 200 body", rec.Code)
	}
	resp := decodeBody[x402.VerifyResponse](t, rec)
	if resp.IsValid {
		t.Fatal("expected invalid verdict")
	}
	if resp.InvalidReason != "insufficient balance" {
		t.Errorf("reason = %q", resp.InvalidReason)
	}
}

func TestVerifyEnvelopeRejection(t *testing.T) {
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, nil)

	req := validRequest()
	req.PaymentRequirements.Network = "base" // mismatch
	rec := post(t, h.verify, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[x402.VerifyResponse](t, rec)
	if resp.IsValid {
		t.Fatal("expected rejection")
	}
}

func TestVerifyVersionDisagreement(t *testing.T) {
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, nil)

	req := validRequest()
	req.X402Version = x402.VersionV1 // inner payload says V2
	rec := post(t, h.verify, req)
	resp := decodeBody[x402.VerifyResponse](t, rec)
	if resp.IsValid {
		t.Fatal("envelope/payload version disagreement must be invalid")
	}
	if !strings.Contains(resp.InvalidReason, "version") {
		t.Errorf("reason = %q", resp.InvalidReason)
	}
}

func TestVerifyMalformedBody(t *testing.T) {
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.verify(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSettleSuccess(t *testing.T) {
	engine := &stubSettler{outcome: settlement.Outcome{
		Success:   true,
		TxHash:    "0xabc",
		Payer:     testPayer,
		SponsorID: "sp-1",
	}}
	h := newTestHandlers(stubVerifier{}, engine, nil)

	rec := post(t, h.settle, validRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	receipt := decodeBody[settleReceipt](t, rec)
	if !receipt.Settlement.Success || receipt.Settlement.Transaction != "0xabc" {
		t.Fatalf("receipt = %+v", receipt.Settlement)
	}
	if receipt.Network.ChainID != 84532 || receipt.Network.CAIP2 != "eip155:84532" {
		t.Errorf("network = %+v", receipt.Network)
	}
	if receipt.Settlement.BlockExplorer == "" {
		t.Error("success with a hash must link the explorer")
	}

	if got := rec.Header().Get("X-x402-Transaction"); got != "0xabc" {
		t.Errorf("transaction header = %q", got)
	}
	raw, err := base64.StdEncoding.DecodeString(rec.Header().Get("X-PAYMENT-RESPONSE"))
	if err != nil {
		t.Fatalf("X-PAYMENT-RESPONSE not base64: %v", err)
	}
	var settleResp x402.SettleResponse
	if err := json.Unmarshal(raw, &settleResp); err != nil {
		t.Fatalf("X-PAYMENT-RESPONSE not JSON: %v", err)
	}
	if !settleResp.Success || settleResp.Transaction != "0xabc" || settleResp.Network != "base-sepolia" {
		t.Errorf("settle response = %+v", settleResp)
	}
}

func TestSettleReconciledSuccessWithoutHash(t *testing.T) {
	engine := &stubSettler{outcome: settlement.Outcome{
		Success: true,
		Payer:   testPayer,
		Note:    settlement.NoteHashUnrecovered,
	}}
	h := newTestHandlers(stubVerifier{}, engine, nil)

	rec := post(t, h.settle, validRequest())
	receipt := decodeBody[settleReceipt](t, rec)
	if !receipt.Settlement.Success {
		t.Fatalf("receipt = %+v", receipt.Settlement)
	}
	if receipt.Settlement.Transaction != "" || receipt.Settlement.BlockExplorer != "" {
		t.Errorf("hashless success must not invent a transaction link: %+v", receipt.Settlement)
	}
	if receipt.Settlement.Note == "" {
		t.Error("note must explain the missing hash")
	}
}

func TestSettleTerminalFailure(t *testing.T) {
	engine := &stubSettler{outcome: settlement.Outcome{
		Success: false,
		Payer:   testPayer,
		Code:    apierrors.ErrCodeReverted,
		Reason:  "transaction reverted on-chain",
	}}
	h := newTestHandlers(stubVerifier{}, engine, nil)

	rec := post(t, h.settle, validRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, terminal failures are 200 receipts", rec.Code)
	}
	receipt := decodeBody[settleReceipt](t, rec)
	if receipt.Settlement.Success {
		t.Fatal("expected failed receipt")
	}
	if receipt.Settlement.ErrorReason != "transaction reverted on-chain" {
		t.Errorf("reason = %q", receipt.Settlement.ErrorReason)
	}
	if rec.Header().Get("X-PAYMENT-RESPONSE") != "" {
		t.Error("failure must not emit a payment-response header")
	}
}

func TestSettleEnvelopeRejectionRendersReceipt(t *testing.T) {
	engine := &stubSettler{}
	h := newTestHandlers(stubVerifier{}, engine, nil)

	req := validRequest()
	req.PaymentPayload.Network = "solana"
	req.PaymentRequirements.Network = "solana"
	rec := post(t, h.settle, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if engine.called {
		t.Fatal("rejected envelope must not reach the engine")
	}
	receipt := decodeBody[settleReceipt](t, rec)
	if receipt.Settlement.Success {
		t.Fatal("expected failed receipt")
	}
	if !strings.EqualFold(receipt.Payment.Payer, testPayer) {
		t.Errorf("payer = %q, want echo of the authorization", receipt.Payment.Payer)
	}
	if receipt.Payment.Amount != "10000" {
		t.Errorf("amount = %q", receipt.Payment.Amount)
	}
}

func TestSettleQuotaExceededFromEngine(t *testing.T) {
	periodEnd := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	engine := &stubSettler{outcome: settlement.Outcome{
		Success: false,
		Payer:   testPayer,
		Code:    apierrors.ErrCodeQuotaExceeded,
		Err:     &quota.ExceededError{Used: 4, Limit: 3, PeriodEnd: periodEnd},
	}}
	h := newTestHandlers(stubVerifier{}, engine, nil)

	rec := post(t, h.settle, validRequest())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["error"] != string(apierrors.ErrCodeQuotaExceeded) {
		t.Errorf("error = %v", body["error"])
	}
	if body["used"] != float64(4) || body["limit"] != float64(3) {
		t.Errorf("usage = %v/%v", body["used"], body["limit"])
	}
	if body["periodEnd"] != periodEnd.Format(time.RFC3339) {
		t.Errorf("periodEnd = %v", body["periodEnd"])
	}
	accepts, ok := body["accepts"].([]any)
	if !ok || len(accepts) != 1 {
		t.Errorf("accepts = %v", body["accepts"])
	}
}

func newEnabledGate(t *testing.T, rate int, monthly int64) *quota.Gate {
	t.Helper()
	g := quota.NewGate(config.QuotaConfig{
		Enabled:     true,
		DefaultTier: "free",
		Tiers: map[string]config.TierConfig{
			"free": {RateLimitPerMinute: rate, MonthlyTxLimit: monthly},
		},
	}, quota.NewMemoryRepository(), metrics.New(prometheus.NewRegistry()))
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestSettleQuotaPrecheckBlocksBeforeEngine(t *testing.T) {
	gate := newEnabledGate(t, 100, 1)
	// Exhaust the monthly allowance out of band.
	if err := gate.Consume(context.Background(), testPayer); err != nil {
		t.Fatal(err)
	}

	engine := &stubSettler{}
	h := newTestHandlers(stubVerifier{}, engine, gate)

	rec := post(t, h.settle, validRequest())
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if engine.called {
		t.Fatal("exhausted payer must be rejected before the engine runs")
	}
}

func TestPayerRateLimit(t *testing.T) {
	gate := newEnabledGate(t, 1, -1)
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, gate)

	rec := post(t, h.verify, validRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec = post(t, h.verify, validRequest())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
}

func TestSupported(t *testing.T) {
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	rec := httptest.NewRecorder()
	h.supported(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[x402.SupportedResponse](t, rec)
	if len(resp.Kinds) != len(chains.All()) {
		t.Errorf("kinds = %d, want %d", len(resp.Kinds), len(chains.All()))
	}
}

func TestHealthWithoutProbes(t *testing.T) {
	h := newTestHandlers(stubVerifier{}, &stubSettler{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestConfigureRouterPrefix(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RoutePrefix = "/api"

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, scheme.NewRouter(chains.All(), ""),
		stubVerifier{}, &stubSettler{}, nil, nil, nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/supported", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("prefixed route status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/supported", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unprefixed route status = %d, want 404", rec.Code)
	}
}
