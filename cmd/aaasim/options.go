package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/smfaaa/internal/config"
	"github.com/danmuck/smfaaa/internal/diameter"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

type options struct {
	configPath string
	listen     string
	reject     string
	drop       string
	rejectAll  bool
	logLevel   string
}

// simulatorConfig layers flags over the config file, or over defaults when
// no file is given.
func (o options) simulatorConfig() (config.SimulatorConfig, error) {
	cfg := config.Default()
	if strings.TrimSpace(o.configPath) != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.SimulatorConfig{}, err
		}
		cfg = loaded
	}
	sim := cfg.Simulator
	if sim.Responder.Rules == nil {
		sim.Responder.Rules = make(map[string]diameter.Rule)
	}
	if addr := strings.TrimSpace(o.listen); addr != "" {
		sim.ListenAddr = addr
	}
	if o.rejectAll {
		sim.Responder.Default.Outcome = schema.OutcomeFailure
	}
	for _, imsi := range splitList(o.reject) {
		sim.Responder.Rules[imsi] = diameter.Rule{Outcome: schema.OutcomeFailure}
	}
	for _, imsi := range splitList(o.drop) {
		sim.Responder.Rules[imsi] = diameter.Rule{Drop: true}
	}
	if sim.ListenAddr == "" {
		return config.SimulatorConfig{}, fmt.Errorf("listen address required")
	}
	return sim, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
