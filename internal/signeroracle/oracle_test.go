package signeroracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gaslift/facilitator/internal/circuitbreaker"
)

func passthroughBreakers() *circuitbreaker.Manager {
	return circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
}

func submitRequest() SubmitRequest {
	return SubmitRequest{
		Handle:  "handle-1",
		ChainID: 84532,
		To:      "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Data:    "0xdeadbeef",
		Network: "base-sepolia",
	}
}

func TestSubmitSuccess(t *testing.T) {
	var got SubmitRequest
	var auth, requestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"txHash": "0xabc"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5*time.Second, passthroughBreakers(), nil)
	txHash, err := client.Submit(context.Background(), submitRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if txHash != "0xabc" {
		t.Errorf("txHash = %q", txHash)
	}
	if auth != "Bearer secret" {
		t.Errorf("authorization = %q", auth)
	}
	if requestID == "" {
		t.Error("submission must carry a request id for oracle-side correlation")
	}
	if got.Handle != "handle-1" || got.ChainID != 84532 || got.Data != "0xdeadbeef" {
		t.Errorf("oracle received %+v", got)
	}
}

func TestSubmitOmitsNetworkFromWire(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		json.NewEncoder(w).Encode(map[string]string{"txHash": "0xabc"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, passthroughBreakers(), nil)
	if _, err := client.Submit(context.Background(), submitRequest()); err != nil {
		t.Fatal(err)
	}
	// Network is a metrics label, not part of the oracle contract.
	if _, ok := raw["Network"]; ok {
		t.Error("network leaked onto the wire")
	}
}

func TestSubmitOracleError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown handle"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, passthroughBreakers(), nil)
	_, err := client.Submit(context.Background(), submitRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown handle") {
		t.Errorf("error %q should carry the oracle's reason", err)
	}
}

func TestSubmitMissingTxHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, passthroughBreakers(), nil)
	if _, err := client.Submit(context.Background(), submitRequest()); err == nil {
		t.Fatal("a 200 without a txHash must be an error")
	}
}

func TestSubmitUnreachableOracle(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", time.Second, passthroughBreakers(), nil)
	if _, err := client.Submit(context.Background(), submitRequest()); err == nil {
		t.Fatal("expected connection error")
	}
}
