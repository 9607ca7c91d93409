package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/smfaaa/internal/diameter"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

const (
	KindNode      = "node"
	KindSimulator = "simulator"
)

const templateHeader = `# smfaaa configuration
# Durations use Go syntax ("250ms", "30s"). Omitted keys keep their defaults.
`

// Encode renders cfg in the layout Load reads.
func Encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(toFile(cfg)); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Template returns a starter file for kind. The simulator template carries
// sample per-subscriber rules.
func Template(kind string) (string, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindNode, "":
	case KindSimulator:
		cfg.Simulator.Responder.Rules = map[string]diameter.Rule{
			"001010000000002": {Outcome: schema.OutcomeFailure},
			"001010000000003": {Drop: true},
			"001010000000004": {ResultCode: 5012},
			"001010000000005": {Delay: 2 * time.Second},
		}
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	body, err := Encode(cfg)
	if err != nil {
		return "", err
	}
	return templateHeader + "\n" + string(body), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	d := cfg.Diameter
	out := fileConfig{
		Node: fileNode{
			ID:               cfg.Node.ID,
			LogLevel:         cfg.Node.LogLevel,
			Heartbeat:        cfg.Node.HeartbeatInterval.String(),
			DestinationHost:  cfg.Node.DestinationHost,
			DestinationRealm: cfg.Node.DestinationRealm,
		},
		Diameter: fileDiameter{
			PeerAddr:         d.PeerAddr,
			OriginHost:       d.OriginHost,
			OriginRealm:      d.OriginRealm,
			ConnectTimeout:   d.ConnectTimeout.String(),
			HandshakeTimeout: d.HandshakeTimeout.String(),
			WriteTimeout:     d.WriteTimeout.String(),
			AnswerTimeout:    d.AnswerTimeout.String(),
			MaxMessageBytes:  d.MaxMessageBytes,
			SecurityMode:     string(d.SecurityMode),
			Backoff: fileBackoff{
				Initial:    d.Backoff.InitialDelay.String(),
				Multiplier: d.Backoff.Multiplier,
				Max:        d.Backoff.MaxDelay.String(),
				Jitter:     d.Backoff.Jitter,
			},
			TLS: fromTLS(d.TLS),
		},
		Correlation: fileCorrelation{
			Capacity:      cfg.Correlation.Capacity,
			Workers:       cfg.Correlation.Workers,
			QueueDepth:    cfg.Correlation.QueueDepth,
			RecordTTL:     cfg.Correlation.RecordTTL.String(),
			SweepInterval: cfg.Correlation.SweepInterval.String(),
		},
		Admin: fileAdmin{
			Addr:        cfg.Admin.Addr,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Token:       cfg.Admin.Token,
		},
		Simulator: fileSimulator{
			ListenAddr:     cfg.Simulator.ListenAddr,
			OriginHost:     cfg.Simulator.Responder.OriginHost,
			OriginRealm:    cfg.Simulator.Responder.OriginRealm,
			DefaultOutcome: cfg.Simulator.Responder.Default.Outcome,
			SecurityMode:   string(cfg.Simulator.Transport.SecurityMode),
			TLS:            fromTLS(cfg.Simulator.Transport.TLS),
		},
	}

	imsis := make([]string, 0, len(cfg.Simulator.Responder.Rules))
	for imsi := range cfg.Simulator.Responder.Rules {
		imsis = append(imsis, imsi)
	}
	sort.Strings(imsis)
	for _, imsi := range imsis {
		r := cfg.Simulator.Responder.Rules[imsi]
		fr := fileRule{
			IMSI:       imsi,
			Outcome:    r.Outcome,
			ResultCode: r.ResultCode,
			OmitResult: r.OmitResult,
			Drop:       r.Drop,
		}
		if r.Delay > 0 {
			fr.Delay = r.Delay.String()
		}
		out.Simulator.Rules = append(out.Simulator.Rules, fr)
	}
	return out
}

func fromTLS(t diameter.TLSConfig) fileTLS {
	return fileTLS{
		Enabled:            t.Enabled,
		Mutual:             t.Mutual,
		CAFile:             t.CAFile,
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
}
