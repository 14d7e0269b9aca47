package params

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Fees != (Fees{}) {
		t.Errorf("fees default to %+v, want zero", cfg.Fees)
	}
}

func TestLoadFromEnvPriority(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"FEE_PLATFORM_BPS=100",
		"FEE_CREATOR_BPS=50",
		"API_ADDR=:9000",
		"LEDGER_TIMEOUT_MS=1500",
		"CORS_ORIGINS=https://a.example, https://b.example",
	}, "\n")
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"FEE_PLATFORM_BPS", "FEE_CREATOR_BPS", "LEDGER_TIMEOUT_MS", "CORS_ORIGINS"} {
		k := k
		t.Cleanup(func() { os.Unsetenv(k) })
	}
	// the process environment wins over the file
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("PLATFORM_TREASURY", "0x00000000000000000000000000000000000f1a70")

	cfg := LoadFromEnv(envFile)

	if cfg.Node.APIAddr != ":7000" {
		t.Errorf("APIAddr = %q, want :7000", cfg.Node.APIAddr)
	}
	if cfg.Fees.PlatformBps != 100 || cfg.Fees.CreatorBps != 50 || cfg.Fees.DividendBps != 0 {
		t.Errorf("fees = %+v", cfg.Fees)
	}
	if cfg.Ledger.Timeout != 1500*time.Millisecond {
		t.Errorf("ledger timeout = %s", cfg.Ledger.Timeout)
	}
	if len(cfg.Node.AllowedOrigins) != 2 || cfg.Node.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.Node.AllowedOrigins)
	}
	if cfg.Accounts.Platform != common.HexToAddress("0x00000000000000000000000000000000000f1a70") {
		t.Errorf("platform = %s", cfg.Accounts.Platform.Hex())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"fees at the cap", func(c *Config) {
			c.Accounts.Platform = common.HexToAddress("0x01")
			c.Fees = Fees{PlatformBps: 5000, CreatorBps: 5000}
		}, false},
		{"fees without treasury", func(c *Config) { c.Fees.PlatformBps = 10 }, false},
		{"no operator", func(c *Config) { c.Accounts.Operator = common.Address{} }, false},
		{"rpc without contracts", func(c *Config) { c.Chain.RPCURL = "http://localhost:8545" }, false},
		{"rpc with resolver", func(c *Config) {
			c.Chain.RPCURL = "http://localhost:8545"
			c.Chain.Resolver = common.HexToAddress("0x02")
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
