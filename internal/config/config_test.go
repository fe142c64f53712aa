package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "indexer"
log_level = "debug"

[[network]]
name = "mainnet"
chain_id = 1
rpc_url = "https://rpc.example.com"

[[network.source]]
address = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
version = "modern"
start_block = 18000000

[indexer]
max_block_range = 2000
poll_interval = "30s"
confirmation_depth = 12

[relay]
batch_size = 50
retry_limit = 3

[postgres]
host = "db.internal"
database = "auctions"
user = "ingest"
password = "secret"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != "indexer" || cfg.LogLevel != "debug" {
		t.Fatalf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Indexer.MaxBlockRange != 2000 {
		t.Errorf("max_block_range = %d, want 2000", cfg.Indexer.MaxBlockRange)
	}
	if cfg.Indexer.PollInterval.Duration != 30*time.Second {
		t.Errorf("poll_interval = %v, want 30s", cfg.Indexer.PollInterval.Duration)
	}
	if cfg.Indexer.ConfirmationDepth != 12 {
		t.Errorf("confirmation_depth = %d, want 12", cfg.Indexer.ConfirmationDepth)
	}

	// Unset fields keep their defaults.
	if cfg.Relay.PollIntervalMs != 300 || cfg.Relay.MaxPollIntervalMs != 5000 {
		t.Errorf("relay poll defaults lost: %+v", cfg.Relay)
	}
	if cfg.Relay.BatchSize != 50 || cfg.Relay.RetryLimit != 3 {
		t.Errorf("relay overrides lost: %+v", cfg.Relay)
	}
	if cfg.Consumer.Group != "alerts" {
		t.Errorf("consumer group = %q, want alerts", cfg.Consumer.Group)
	}

	if len(cfg.Networks) != 1 || len(cfg.Networks[0].Sources) != 1 {
		t.Fatalf("networks = %+v", cfg.Networks)
	}
	if cfg.Networks[0].Sources[0].StartBlock != 18000000 {
		t.Errorf("start_block = %d", cfg.Networks[0].Sources[0].StartBlock)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUCTION_RPC_URL_1", "https://override.example.com")
	t.Setenv("AUCTION_RELAY_RETRY_LIMIT", "9")
	t.Setenv("AUCTION_POSTGRES_PASSWORD", "from-env")
	t.Setenv("AUCTION_MODE", "relay")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Networks[0].RPCURL != "https://override.example.com" {
		t.Errorf("rpc_url = %q", cfg.Networks[0].RPCURL)
	}
	if cfg.Relay.RetryLimit != 9 {
		t.Errorf("retry_limit = %d, want 9", cfg.Relay.RetryLimit)
	}
	if cfg.Postgres.Password != "from-env" {
		t.Errorf("password = %q", cfg.Postgres.Password)
	}
	if cfg.Mode != "relay" {
		t.Errorf("mode = %q, want relay", cfg.Mode)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "indexer" // requires networks
	cfg.LogLevel = "verbose"
	cfg.Relay.BatchSize = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	msg := err.Error()
	for _, want := range []string{
		"log_level",
		"at least one [[network]]",
		"batch_size",
		"redis: addr",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateSourceVersion(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "indexer"
	cfg.Networks = []NetworkConfig{{
		Name:    "mainnet",
		ChainID: 1,
		RPCURL:  "https://rpc.example.com",
		Sources: []SourceConfig{{Address: "0xabc", Version: "v3", StartBlock: 1}},
	}}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestValidateArchiverRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archiver"
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "s3:") {
		t.Fatalf("expected s3 errors, got %v", err)
	}
}
