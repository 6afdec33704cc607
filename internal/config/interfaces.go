package config

// ServerConfig configures the transport listeners.
type ServerConfig struct {
	UDPPort int `yaml:"udp_port"`
	TCPPort int `yaml:"tcp_port"`
}

// DatabaseConfig points at the sqlite database backing every table this
// server owns, including the Location Service Core's bindings and
// gruu_entries tables.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthenticationConfig configures RFC2617 digest authentication.
type AuthenticationConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RequireAuth bool   `yaml:"require_auth"`
	Realm       string `yaml:"realm"`
	NonceExpiry int    `yaml:"nonce_expiry"`
}

// SessionTimerConfig configures RFC4028 session timer enforcement.
type SessionTimerConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequireSupport bool `yaml:"require_support"`
	DefaultExpires int  `yaml:"default_expires"`
	MinSE          int  `yaml:"min_se"`
	MaxSE          int  `yaml:"max_se"`
}

// HuntGroupConfig configures the hunt group call-distribution engine.
type HuntGroupConfig struct {
	Enabled         bool `yaml:"enabled"`
	RingTimeout     int  `yaml:"ring_timeout"`
	MaxConcurrent   int  `yaml:"max_concurrent"`
	CallWaitingTime int  `yaml:"call_waiting_time"`
}

// WebAdminConfig configures the administrative HTTP UI.
type WebAdminConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// RegistrarConfig configures the Location Service Core: extension
// negotiation toggles and the registration lifetime bound of spec
// section 4.7 and section 6.
type RegistrarConfig struct {
	// ExperimentalGRUUEnable gates whether draft-ietf-sip-gruu Require:
	// gruu/Supported: gruu handling is honored at all.
	ExperimentalGRUUEnable bool `yaml:"experimental_gruu_enable"`

	// AllowProxyInsertedPath permits accepting a Path header from a UA
	// that didn't advertise Supported: path (spec section 4.4).
	AllowProxyInsertedPath bool `yaml:"allow_proxy_inserted_path"`

	// MaxRegisterTime is the upper bound applied to any contact's
	// effective expiry (spec section 4.7).
	MaxRegisterTime int `yaml:"max_register_time"`

	// Homedomains lists the DNS domains this registrar is authoritative
	// for (spec section 4.1 step 1, section 6).
	Homedomains []string `yaml:"homedomains"`

	// RecordRouteURI is this node's own Record-Route URI, used by the
	// Path Vector Builder when acting as an outgoing edge proxy (spec
	// section 4.4).
	RecordRouteURI string `yaml:"record_route_uri"`
}

// Config represents the full server configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Authentication AuthenticationConfig `yaml:"authentication"`
	SessionTimer   SessionTimerConfig   `yaml:"session_timer"`
	HuntGroups     HuntGroupConfig      `yaml:"hunt_groups"`
	WebAdmin       WebAdminConfig       `yaml:"web_admin"`
	Logging        LoggingConfig        `yaml:"logging"`
	Registrar      RegistrarConfig      `yaml:"registrar"`
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	Load(filename string) (*Config, error)
	Validate(config *Config) error
}
