package ledger

import (
	"context"
	"testing"
)

func TestMemoryWriterFirstWriteWins(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	first := TransactionRecord{TxHash: "0xabc", Payer: "0x1", Status: StatusSuccess}
	if err := w.RecordTransaction(ctx, first); err != nil {
		t.Fatal(err)
	}
	// Duplicate settles idempotently; the original record stays.
	dup := first
	dup.Payer = "0x2"
	if err := w.RecordTransaction(ctx, dup); err != nil {
		t.Fatal(err)
	}

	rec, ok := w.Transaction("0xabc")
	if !ok || rec.Payer != "0x1" {
		t.Errorf("record = %+v, want first write preserved", rec)
	}
	if w.TransactionCount() != 1 {
		t.Errorf("count = %d, want 1", w.TransactionCount())
	}
}

func TestMemoryWriterSpendKeyedBySponsorAndHash(t *testing.T) {
	w := NewMemoryWriter()
	ctx := context.Background()

	spend := SponsorSpendRecord{SponsorWalletID: "sp-1", TxHash: "0xabc", GasUsed: 1}
	if err := w.RecordSponsorSpend(ctx, spend); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordSponsorSpend(ctx, spend); err != nil {
		t.Fatal(err)
	}
	other := spend
	other.SponsorWalletID = "sp-2"
	if err := w.RecordSponsorSpend(ctx, other); err != nil {
		t.Fatal(err)
	}

	if w.SpendCount() != 2 {
		t.Errorf("spends = %d, want 2 (duplicate collapsed, distinct sponsor kept)", w.SpendCount())
	}
}

func TestVendorFromResource(t *testing.T) {
	cases := []struct {
		resource string
		domain   string
		endpoint string
	}{
		{"https://api.vendor.example/v1/data", "api.vendor.example", "/v1/data"},
		{"https://vendor.example", "vendor.example", "/"},
		{"not a url", "", "not a url"},
		{"", "", ""},
		{"  https://vendor.example/x  ", "vendor.example", "/x"},
	}
	for _, tc := range cases {
		domain, endpoint := VendorFromResource(tc.resource)
		if domain != tc.domain || endpoint != tc.endpoint {
			t.Errorf("VendorFromResource(%q) = %q, %q; want %q, %q",
				tc.resource, domain, endpoint, tc.domain, tc.endpoint)
		}
	}
}
