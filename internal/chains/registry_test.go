package chains

import (
	"errors"
	"testing"
	"time"
)

func TestResolveLegacyAndCAIP2Agree(t *testing.T) {
	for _, c := range All() {
		byName, err := Resolve(c.Name)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", c.Name, err)
		}
		byCAIP2, err := Resolve(c.CAIP2)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", c.CAIP2, err)
		}
		if byName.ID != byCAIP2.ID {
			t.Errorf("%s: legacy and CAIP-2 resolve to different chains (%d vs %d)",
				c.Name, byName.ID, byCAIP2.ID)
		}
		byID, err := ResolveID(c.ID)
		if err != nil || byID.Name != c.Name {
			t.Errorf("ResolveID(%d) = %+v, %v", c.ID, byID, err)
		}
	}
}

func TestResolveTrimsWhitespace(t *testing.T) {
	c, err := Resolve("  base-sepolia ")
	if err != nil || c.ID != 84532 {
		t.Fatalf("Resolve with whitespace = %+v, %v", c, err)
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, network := range []string{"", "solana", "eip155:999999", "eip155:abc"} {
		_, err := Resolve(network)
		var notSupported ErrNotSupported
		if !errors.As(err, &notSupported) {
			t.Errorf("Resolve(%q) = %v, want ErrNotSupported", network, err)
		}
	}
}

func TestExplorerTx(t *testing.T) {
	c, _ := Resolve("base")
	if got := c.ExplorerTx("0xabc"); got != "https://basescan.org/tx/0xabc" {
		t.Errorf("ExplorerTx = %q", got)
	}
	// A hash-recovery miss leaves the hash empty; no link to a dead page.
	if got := c.ExplorerTx(""); got != "" {
		t.Errorf("ExplorerTx(\"\") = %q, want empty", got)
	}
}

func TestLogScanBlocks(t *testing.T) {
	base, _ := Resolve("base")         // 2s blocks
	ethereum, _ := Resolve("ethereum") // 12s blocks

	if got := base.LogScanBlocks(time.Minute); got != 30 {
		t.Errorf("base blocks for 1m = %d, want 30", got)
	}
	if got := ethereum.LogScanBlocks(time.Minute); got != 5 {
		t.Errorf("ethereum blocks for 1m = %d, want 5", got)
	}
	if got := base.LogScanBlocks(time.Millisecond); got != 1 {
		t.Errorf("window smaller than one block = %d, want 1", got)
	}
	if got := (Chain{}).LogScanBlocks(time.Minute); got != 30 {
		t.Errorf("zero block time fallback = %d, want 30", got)
	}
}

func TestRegistryUSDCDomains(t *testing.T) {
	// Circle-native deployments report "USD Coin"; several testnets and Celo
	// report "USDC". A wrong domain name makes every signature unrecoverable.
	wantUSDC := map[string]bool{
		"base-sepolia": true,
		"polygon-amoy": true,
		"sepolia":      true,
		"celo":         true,
	}
	for _, c := range All() {
		want := "USD Coin"
		if wantUSDC[c.Name] {
			want = "USDC"
		}
		if c.TokenName != want {
			t.Errorf("%s: token name %q, want %q", c.Name, c.TokenName, want)
		}
		if c.TokenVersion != "2" {
			t.Errorf("%s: token version %q, want 2", c.Name, c.TokenVersion)
		}
	}
}
