package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/smfaaa/internal/aaa"
	"github.com/danmuck/smfaaa/internal/diameter"
	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

var (
	ErrNodeIDRequired   = errors.New("config: node id required")
	ErrInvalidCapacity  = errors.New("config: correlation capacity must be positive")
	ErrInvalidWorkers   = errors.New("config: correlation workers must be positive")
	ErrInvalidLogLevel  = errors.New("config: invalid log level")
	ErrInvalidRule      = errors.New("config: invalid simulator rule")
	ErrInvalidHeartbeat = errors.New("config: heartbeat must not be negative")
	ErrInvalidRecordTTL = errors.New("config: correlation record_ttl must exceed diameter answer_timeout")
)

type NodeConfig struct {
	ID                string
	LogLevel          string
	HeartbeatInterval time.Duration
	// DestinationHost and DestinationRealm apply to sessions that name none.
	DestinationHost  string
	DestinationRealm string
}

type CorrelationConfig struct {
	Capacity int
	aaa.CorrelatorConfig
}

type AdminConfig struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on mutating routes.
	Token string
}

// SimulatorConfig drives the bundled AAA server.
type SimulatorConfig struct {
	ListenAddr string
	Responder  diameter.ResponderConfig
	// Transport carries only the security mode and TLS material.
	Transport diameter.Config
}

type Config struct {
	Node        NodeConfig
	Diameter    diameter.Config
	Correlation CorrelationConfig
	Admin       AdminConfig
	Simulator   SimulatorConfig
}

func Default() Config {
	dcfg := diameter.DefaultConfig()
	dcfg.PeerAddr = "127.0.0.1:3868"
	dcfg.OriginHost = "smf.local"
	dcfg.OriginRealm = "local"
	return Config{
		Node: NodeConfig{
			ID:                "smf-1",
			LogLevel:          "info",
			HeartbeatInterval: 30 * time.Second,
			DestinationHost:   "aaa.local",
			DestinationRealm:  "local",
		},
		Diameter: dcfg,
		Correlation: CorrelationConfig{
			Capacity:         4096,
			CorrelatorConfig: aaa.DefaultCorrelatorConfig(),
		},
		Admin: AdminConfig{
			Addr:        "127.0.0.1:9090",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Simulator: SimulatorConfig{
			ListenAddr: "127.0.0.1:3868",
			Responder: diameter.ResponderConfig{
				OriginHost:  "aaa.local",
				OriginRealm: "local",
				Default:     diameter.Rule{Outcome: schema.OutcomeSuccess},
				Rules:       map[string]diameter.Rule{},
			},
			Transport: diameter.Config{SecurityMode: diameter.SecurityModeDevelopment},
		},
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Node.ID) == "" {
		return ErrNodeIDRequired
	}
	if cfg.Node.HeartbeatInterval < 0 {
		return ErrInvalidHeartbeat
	}
	if cfg.Node.LogLevel != "" {
		if _, ok := logs.ParseLevel(cfg.Node.LogLevel); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.Node.LogLevel)
		}
	}
	if err := cfg.Diameter.Validate(); err != nil {
		return fmt.Errorf("config: diameter: %w", err)
	}
	if cfg.Correlation.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if cfg.Correlation.Workers <= 0 {
		return ErrInvalidWorkers
	}
	// A zero ttl disables the sweep. Otherwise the sweep must not beat the
	// answer timeout to a record whose exchange is still in flight.
	if ttl, answer := cfg.Correlation.RecordTTL, cfg.Diameter.WithDefaults().AnswerTimeout; ttl > 0 && ttl <= answer {
		return fmt.Errorf("%w: record_ttl=%s answer_timeout=%s", ErrInvalidRecordTTL, ttl, answer)
	}
	for imsi, rule := range cfg.Simulator.Responder.Rules {
		if strings.TrimSpace(imsi) == "" {
			return fmt.Errorf("%w: empty imsi", ErrInvalidRule)
		}
		if rule.Delay < 0 {
			return fmt.Errorf("%w: imsi=%s negative delay", ErrInvalidRule, imsi)
		}
	}
	if err := cfg.Simulator.Transport.ValidateServerTransport(); err != nil {
		return fmt.Errorf("config: simulator: %w", err)
	}
	return nil
}
