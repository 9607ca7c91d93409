package config

// fileConfig mirrors the on-disk TOML layout. Durations are strings so both
// decoders read "250ms" the same way.
type fileConfig struct {
	Node        fileNode        `toml:"node"`
	Diameter    fileDiameter    `toml:"diameter"`
	Correlation fileCorrelation `toml:"correlation"`
	Admin       fileAdmin       `toml:"admin"`
	Simulator   fileSimulator   `toml:"simulator"`
}

type fileNode struct {
	ID               string `toml:"id"`
	LogLevel         string `toml:"log_level"`
	Heartbeat        string `toml:"heartbeat"`
	DestinationHost  string `toml:"destination_host"`
	DestinationRealm string `toml:"destination_realm"`
}

type fileDiameter struct {
	PeerAddr         string      `toml:"peer_addr"`
	OriginHost       string      `toml:"origin_host"`
	OriginRealm      string      `toml:"origin_realm"`
	ConnectTimeout   string      `toml:"connect_timeout"`
	HandshakeTimeout string      `toml:"handshake_timeout"`
	WriteTimeout     string      `toml:"write_timeout"`
	AnswerTimeout    string      `toml:"answer_timeout"`
	MaxMessageBytes  uint32      `toml:"max_message_bytes"`
	SecurityMode     string      `toml:"security_mode"`
	Backoff          fileBackoff `toml:"backoff"`
	TLS              fileTLS     `toml:"tls"`
}

type fileBackoff struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileCorrelation struct {
	Capacity      int    `toml:"capacity"`
	Workers       int    `toml:"workers"`
	QueueDepth    int    `toml:"queue_depth"`
	RecordTTL     string `toml:"record_ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

type fileAdmin struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type fileSimulator struct {
	ListenAddr     string     `toml:"listen_addr"`
	OriginHost     string     `toml:"origin_host"`
	OriginRealm    string     `toml:"origin_realm"`
	DefaultOutcome uint32     `toml:"default_outcome"`
	SecurityMode   string     `toml:"security_mode"`
	TLS            fileTLS    `toml:"tls"`
	Rules          []fileRule `toml:"rules,omitempty"`
}

type fileRule struct {
	IMSI       string `toml:"imsi"`
	Outcome    uint32 `toml:"outcome"`
	ResultCode uint32 `toml:"result_code"`
	OmitResult bool   `toml:"omit_result"`
	Drop       bool   `toml:"drop"`
	Delay      string `toml:"delay"`
}
