package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// The oracle URL is the only required setting, so most tests provide it
// through the environment the way deployments do.
func setOracleURL(t *testing.T) {
	t.Helper()
	t.Setenv("FACILITATOR_ORACLE_URL", "https://oracle.test")
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	setOracleURL(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Settlement.ReceiptPoll.Duration != 2*time.Second {
		t.Errorf("receipt poll = %v", cfg.Settlement.ReceiptPoll.Duration)
	}
	if cfg.Settlement.ReceiptTimeout.Duration != 90*time.Second {
		t.Errorf("receipt timeout = %v", cfg.Settlement.ReceiptTimeout.Duration)
	}
	if cfg.Settlement.MaxRetries != 1 {
		t.Errorf("max retries = %d", cfg.Settlement.MaxRetries)
	}
	if !cfg.Quota.Enabled || cfg.Quota.DefaultTier != "free" {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	free, ok := cfg.Quota.Tiers["free"]
	if !ok || free.RateLimitPerMinute != 10 || free.MonthlyTxLimit != 100 {
		t.Errorf("free tier = %+v", free)
	}
	if ent := cfg.Quota.Tiers["enterprise"]; ent.MonthlyTxLimit != -1 {
		t.Errorf("enterprise monthly limit = %d, want unlimited", ent.MonthlyTxLimit)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("storage backend = %q", cfg.Storage.Backend)
	}
	if cfg.Monitoring.LowBalanceWei != "10000000000000000" {
		t.Errorf("low balance threshold = %q", cfg.Monitoring.LowBalanceWei)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	setOracleURL(t)

	path := writeConfigFile(t, `
server:
  address: ":9090"
  route_prefix: "/api"
facilitator:
  networks: [base-sepolia, "eip155:8453"]
settlement:
  receipt_timeout: 120s
  max_retries: 2
quota:
  default_tier: pro
  tiers:
    pro:
      rate_limit_per_minute: 30
      monthly_tx_limit: 5000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if got := cfg.Facilitator.Networks; len(got) != 2 || got[0] != "base-sepolia" || got[1] != "eip155:8453" {
		t.Errorf("networks = %v", got)
	}
	if cfg.Settlement.ReceiptTimeout.Duration != 120*time.Second {
		t.Errorf("receipt timeout = %v", cfg.Settlement.ReceiptTimeout.Duration)
	}
	if cfg.Settlement.MaxRetries != 2 {
		t.Errorf("max retries = %d", cfg.Settlement.MaxRetries)
	}
	if cfg.Quota.DefaultTier != "pro" || cfg.Quota.Tiers["pro"].MonthlyTxLimit != 5000 {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	// Settings the file leaves out keep their defaults.
	if cfg.Settlement.ReceiptPoll.Duration != 2*time.Second {
		t.Errorf("receipt poll = %v", cfg.Settlement.ReceiptPoll.Duration)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setOracleURL(t)
	t.Setenv("FACILITATOR_NETWORKS", " base, base-sepolia ,")
	t.Setenv("FACILITATOR_RPC_URL_BASE_SEPOLIA", "https://rpc.test")
	t.Setenv("FACILITATOR_QUOTA_ENABLED", "false")
	t.Setenv("FACILITATOR_ROUTE_PREFIX", "api/")
	t.Setenv("FACILITATOR_RECEIPT_POLL", "500ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Facilitator.Networks; len(got) != 2 || got[0] != "base" || got[1] != "base-sepolia" {
		t.Errorf("networks = %v", got)
	}
	if cfg.Facilitator.RPCURLs["base-sepolia"] != "https://rpc.test" {
		t.Errorf("rpc urls = %v", cfg.Facilitator.RPCURLs)
	}
	if cfg.Quota.Enabled {
		t.Error("quota should be disabled by env override")
	}
	if cfg.Server.RoutePrefix != "/api" {
		t.Errorf("route prefix = %q", cfg.Server.RoutePrefix)
	}
	if cfg.Settlement.ReceiptPoll.Duration != 500*time.Millisecond {
		t.Errorf("receipt poll = %v", cfg.Settlement.ReceiptPoll.Duration)
	}
}

func TestLoadRejectsUnknownNetwork(t *testing.T) {
	setOracleURL(t)
	t.Setenv("FACILITATOR_NETWORKS", "base,solana")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "solana") {
		t.Fatalf("Load = %v, want unknown network error naming solana", err)
	}
}

func TestLoadRequiresOracleURL(t *testing.T) {
	t.Setenv("FACILITATOR_ORACLE_URL", "")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "signer_oracle.url") {
		t.Fatalf("Load = %v, want missing oracle url error", err)
	}
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	setOracleURL(t)
	t.Setenv("FACILITATOR_STORAGE_BACKEND", "postgres")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "postgres_url") {
		t.Fatalf("Load = %v, want missing postgres url error", err)
	}

	t.Setenv("FACILITATOR_POSTGRES_URL", "postgres://localhost/facilitator")
	if _, err := Load(""); err != nil {
		t.Fatalf("Load with postgres url: %v", err)
	}
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var out struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	// Go-style strings and bare numbers (seconds) both parse.
	if err := yaml.Unmarshal([]byte("a: 1h30m\nb: 45\nc: \"\"\n"), &out); err != nil {
		t.Fatal(err)
	}
	if out.A.Duration != 90*time.Minute {
		t.Errorf("a = %v", out.A.Duration)
	}
	if out.B.Duration != 45*time.Second {
		t.Errorf("b = %v", out.B.Duration)
	}
	if out.C.Duration != 0 {
		t.Errorf("c = %v", out.C.Duration)
	}

	var bad struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: soon\n"), &bad); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestEnabledChains(t *testing.T) {
	cfg := &Config{}
	if got := cfg.EnabledChains(); len(got) == 0 {
		t.Fatal("empty network list must enable every registered chain")
	}

	// Legacy and CAIP-2 forms of the same chain collapse to one entry.
	cfg.Facilitator.Networks = []string{"base-sepolia", "eip155:84532", "base"}
	got := cfg.EnabledChains()
	if len(got) != 2 {
		t.Fatalf("chains = %d, want 2", len(got))
	}
	if got[0].ID != 84532 || got[1].ID != 8453 {
		t.Errorf("chain ids = %d, %d", got[0].ID, got[1].ID)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	cases := []struct{ in, want string }{
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"api/v1/", "/api/v1"},
		{"  ", ""},
	}
	for _, tc := range cases {
		if got := normalizeRoutePrefix(tc.in); got != tc.want {
			t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
