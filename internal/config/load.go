package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/smfaaa/internal/diameter"
	logs "github.com/danmuck/smfaaa/internal/logging"
)

// Load decodes path and overlays every key the file defines onto Default.
// Keys the file omits keep their default values.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logs.Warnf("config.Load ignoring unknown keys path=%s keys=%v", path, undecoded)
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	logs.Debugf("config.Load path=%s node=%s peer=%s", path, cfg.Node.ID, cfg.Diameter.PeerAddr)
	return cfg, nil
}

type overlayer struct {
	meta toml.MetaData
	err  error
}

func set[T any](o *overlayer, dst *T, v T, key ...string) {
	if o.meta.IsDefined(key...) {
		*dst = v
	}
}

func (o *overlayer) text(dst *string, v string, key ...string) {
	set(o, dst, strings.TrimSpace(v), key...)
}

func (o *overlayer) duration(dst *time.Duration, v string, key ...string) {
	if o.err != nil || !o.meta.IsDefined(key...) {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		o.err = fmt.Errorf("config: invalid %s: %w", strings.Join(key, "."), err)
		return
	}
	*dst = d
}

func (o *overlayer) tls(dst *diameter.TLSConfig, raw fileTLS, section ...string) {
	key := func(name string) []string {
		return append(append([]string(nil), section...), name)
	}
	set(o, &dst.Enabled, raw.Enabled, key("enabled")...)
	set(o, &dst.Mutual, raw.Mutual, key("mutual")...)
	o.text(&dst.CAFile, raw.CAFile, key("ca_file")...)
	o.text(&dst.CertFile, raw.CertFile, key("cert_file")...)
	o.text(&dst.KeyFile, raw.KeyFile, key("key_file")...)
	o.text(&dst.ServerName, raw.ServerName, key("server_name")...)
	set(o, &dst.InsecureSkipVerify, raw.InsecureSkipVerify, key("insecure_skip_verify")...)
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	o := &overlayer{meta: meta}

	o.text(&cfg.Node.ID, raw.Node.ID, "node", "id")
	o.text(&cfg.Node.LogLevel, raw.Node.LogLevel, "node", "log_level")
	o.duration(&cfg.Node.HeartbeatInterval, raw.Node.Heartbeat, "node", "heartbeat")
	o.text(&cfg.Node.DestinationHost, raw.Node.DestinationHost, "node", "destination_host")
	o.text(&cfg.Node.DestinationRealm, raw.Node.DestinationRealm, "node", "destination_realm")

	d := &cfg.Diameter
	o.text(&d.PeerAddr, raw.Diameter.PeerAddr, "diameter", "peer_addr")
	o.text(&d.OriginHost, raw.Diameter.OriginHost, "diameter", "origin_host")
	o.text(&d.OriginRealm, raw.Diameter.OriginRealm, "diameter", "origin_realm")
	o.duration(&d.ConnectTimeout, raw.Diameter.ConnectTimeout, "diameter", "connect_timeout")
	o.duration(&d.HandshakeTimeout, raw.Diameter.HandshakeTimeout, "diameter", "handshake_timeout")
	o.duration(&d.WriteTimeout, raw.Diameter.WriteTimeout, "diameter", "write_timeout")
	o.duration(&d.AnswerTimeout, raw.Diameter.AnswerTimeout, "diameter", "answer_timeout")
	set(o, &d.MaxMessageBytes, raw.Diameter.MaxMessageBytes, "diameter", "max_message_bytes")
	if meta.IsDefined("diameter", "security_mode") {
		d.SecurityMode = diameter.SecurityMode(strings.TrimSpace(raw.Diameter.SecurityMode))
	}
	o.duration(&d.Backoff.InitialDelay, raw.Diameter.Backoff.Initial, "diameter", "backoff", "initial")
	set(o, &d.Backoff.Multiplier, raw.Diameter.Backoff.Multiplier, "diameter", "backoff", "multiplier")
	o.duration(&d.Backoff.MaxDelay, raw.Diameter.Backoff.Max, "diameter", "backoff", "max")
	set(o, &d.Backoff.Jitter, raw.Diameter.Backoff.Jitter, "diameter", "backoff", "jitter")
	o.tls(&d.TLS, raw.Diameter.TLS, "diameter", "tls")

	c := &cfg.Correlation
	set(o, &c.Capacity, raw.Correlation.Capacity, "correlation", "capacity")
	set(o, &c.Workers, raw.Correlation.Workers, "correlation", "workers")
	set(o, &c.QueueDepth, raw.Correlation.QueueDepth, "correlation", "queue_depth")
	o.duration(&c.RecordTTL, raw.Correlation.RecordTTL, "correlation", "record_ttl")
	o.duration(&c.SweepInterval, raw.Correlation.SweepInterval, "correlation", "sweep_interval")

	o.text(&cfg.Admin.Addr, raw.Admin.Addr, "admin", "addr")
	set(o, &cfg.Admin.CorsOrigins, raw.Admin.CorsOrigins, "admin", "cors_origins")
	o.text(&cfg.Admin.Token, raw.Admin.Token, "admin", "token")

	sim := &cfg.Simulator
	o.text(&sim.ListenAddr, raw.Simulator.ListenAddr, "simulator", "listen_addr")
	o.text(&sim.Responder.OriginHost, raw.Simulator.OriginHost, "simulator", "origin_host")
	o.text(&sim.Responder.OriginRealm, raw.Simulator.OriginRealm, "simulator", "origin_realm")
	set(o, &sim.Responder.Default.Outcome, raw.Simulator.DefaultOutcome, "simulator", "default_outcome")
	if meta.IsDefined("simulator", "security_mode") {
		sim.Transport.SecurityMode = diameter.SecurityMode(strings.TrimSpace(raw.Simulator.SecurityMode))
	}
	o.tls(&sim.Transport.TLS, raw.Simulator.TLS, "simulator", "tls")
	if meta.IsDefined("simulator", "rules") {
		sim.Responder.Rules = make(map[string]diameter.Rule, len(raw.Simulator.Rules))
		for i, r := range raw.Simulator.Rules {
			rule := diameter.Rule{
				Outcome:    r.Outcome,
				ResultCode: r.ResultCode,
				OmitResult: r.OmitResult,
				Drop:       r.Drop,
			}
			if strings.TrimSpace(r.Delay) != "" {
				delay, err := time.ParseDuration(strings.TrimSpace(r.Delay))
				if err != nil {
					return Config{}, fmt.Errorf("config: invalid simulator.rules[%d].delay: %w", i, err)
				}
				rule.Delay = delay
			}
			sim.Responder.Rules[strings.TrimSpace(r.IMSI)] = rule
		}
	}

	if o.err != nil {
		return Config{}, o.err
	}
	return cfg, nil
}
