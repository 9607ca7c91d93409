package diameter

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/smfaaa/internal/protocol/frame"
)

var (
	ErrPeerAddressRequired = errors.New("diameter: peer address required")
	ErrOriginHostRequired  = errors.New("diameter: origin host required")
	ErrOriginRealmRequired = errors.New("diameter: origin realm required")
)

// BackoffConfig defines redial backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig carries file-based certificate material for the peer link.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines the peer link toward one AAA server.
type Config struct {
	PeerAddr         string
	OriginHost       string
	OriginRealm      string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AnswerTimeout    time.Duration
	MaxMessageBytes  uint32
	Backoff          BackoffConfig
	SecurityMode     SecurityMode
	TLS              TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		AnswerTimeout:    10 * time.Second,
		MaxMessageBytes:  frame.DefaultLimits().MaxMessageBytes,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero durations and limits from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = def.AnswerTimeout
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxMessageBytes: c.MaxMessageBytes}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.PeerAddr) == "" {
		return ErrPeerAddressRequired
	}
	if strings.TrimSpace(c.OriginHost) == "" {
		return ErrOriginHostRequired
	}
	if strings.TrimSpace(c.OriginRealm) == "" {
		return ErrOriginRealmRequired
	}
	return c.ValidateClientTransport()
}
