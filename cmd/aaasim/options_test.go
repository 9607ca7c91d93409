package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/smfaaa/internal/protocol/schema"
	"github.com/danmuck/smfaaa/internal/testutil/testlog"
)

func TestSimulatorConfigFlags(t *testing.T) {
	testlog.Start(t)
	cfg, err := options{
		listen: "127.0.0.1:13868",
		reject: "001010000000002, 001010000000003,",
		drop:   "001010000000009",
	}.simulatorConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:13868" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if len(cfg.Responder.Rules) != 3 {
		t.Fatalf("unexpected rules: %+v", cfg.Responder.Rules)
	}
	if cfg.Responder.Rules["001010000000003"].Outcome != schema.OutcomeFailure {
		t.Fatalf("expected reject rule")
	}
	if !cfg.Responder.Rules["001010000000009"].Drop {
		t.Fatalf("expected drop rule")
	}
	if cfg.Responder.Default.Outcome != schema.OutcomeSuccess {
		t.Fatalf("default outcome should stay success")
	}
}

func TestSimulatorConfigFromFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "sim.toml")
	body := "[simulator]\nlisten_addr = \"127.0.0.1:23868\"\n\n[[simulator.rules]]\nimsi = \"001010000000004\"\nresult_code = 5012\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := options{configPath: path, rejectAll: true}.simulatorConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:23868" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.Responder.Rules["001010000000004"].ResultCode != 5012 {
		t.Fatalf("unexpected rules: %+v", cfg.Responder.Rules)
	}
	if cfg.Responder.Default.Outcome != schema.OutcomeFailure {
		t.Fatalf("reject-all should flip the default outcome")
	}
}
