// Package config loads guard settings from defaults, an optional YAML file
// and RHINOGUARD_ environment variables, in that order of precedence.
package config

import (
	"time"

	"rhinoguard/waf/headers"
	"rhinoguard/waf/logging"
	"rhinoguard/waf/signature"
)

type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Identity   IdentityConfig    `koanf:"identity"`
	Rate       RateConfig        `koanf:"rate"`
	Ban        BanConfig         `koanf:"ban"`
	Body       BodyConfig        `koanf:"body"`
	Signatures SignatureConfig   `koanf:"signatures"`
	Headers    HeadersConfig     `koanf:"headers"`
	// BlockPages maps a reason code such as rate_exceeded to an HTML
	// template file used instead of the built-in block page
	BlockPages map[string]string `koanf:"block_pages" validate:"dive,required"`
	Audit      AuditConfig       `koanf:"audit"`
	Sweep      SweepConfig       `koanf:"sweep"`
	Logging    logging.Config    `koanf:"logging"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gte=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	Admin             bool          `koanf:"admin"`
	Metrics           bool          `koanf:"metrics"`
	HTTP3             HTTP3Config   `koanf:"http3"`
}

type HTTP3Config struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type IdentityConfig struct {
	TrustedProxies   []string `koanf:"trusted_proxies" validate:"dive,ip|cidr"`
	ForwardedHeaders []string `koanf:"forwarded_headers"`
}

type RateConfig struct {
	Window             time.Duration `koanf:"window" validate:"gt=0"`
	MaxRequests        int           `koanf:"max_requests" validate:"gt=0"`
	UnknownMaxRequests int           `koanf:"unknown_max_requests" validate:"gte=0"`
	Shards             int           `koanf:"shards" validate:"gte=0,lte=65536"`
}

type BanConfig struct {
	BaseDuration     time.Duration `koanf:"base_duration" validate:"gt=0"`
	EscalationFactor float64       `koanf:"escalation_factor" validate:"gt=1"`
	MaxDuration      time.Duration `koanf:"max_duration" validate:"gt=0"`
	Grace            time.Duration `koanf:"grace" validate:"gte=0"`
	Shards           int           `koanf:"shards" validate:"gte=0,lte=65536"`
}

type BodyConfig struct {
	MaxBytes   int64            `koanf:"max_bytes" validate:"gt=0"`
	PathLimits map[string]int64 `koanf:"path_limits" validate:"dive,gt=0"`
}

type SignatureConfig struct {
	UseDefaults bool                  `koanf:"use_defaults"`
	Disabled    []string              `koanf:"disabled"` // default signature names to drop
	Custom      []signature.Signature `koanf:"custom"`
}

type HeadersConfig struct {
	UseDefaults bool             `koanf:"use_defaults"`
	Set         []headers.Header `koanf:"set"` // added to or overriding the defaults
	Strip       []string         `koanf:"strip"`
}

type AuditConfig struct {
	Capacity      int                    `koanf:"capacity" validate:"gt=0"`
	FlushInterval time.Duration          `koanf:"flush_interval" validate:"gt=0"`
	BatchSize     int                    `koanf:"batch_size" validate:"gt=0"`
	FlushTimeout  time.Duration          `koanf:"flush_timeout" validate:"gt=0"`
	Log           bool                   `koanf:"log"` // mirror records into the app log
	File          logging.RotationConfig `koanf:"file"`
	Webhook       WebhookConfig          `koanf:"webhook"`
}

type WebhookConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url" validate:"omitempty,url"`
	Timeout          time.Duration `koanf:"timeout" validate:"gte=0"`
	MaxRetries       int           `koanf:"max_retries"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gte=0"`
}

type SweepConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			Admin:             true,
			Metrics:           true,
			HTTP3:             HTTP3Config{Addr: ":8443"},
		},
		Identity: IdentityConfig{
			ForwardedHeaders: []string{"X-Forwarded-For", "X-Real-IP"},
		},
		Rate: RateConfig{
			Window:      10 * time.Second,
			MaxRequests: 100,
			Shards:      64,
		},
		Ban: BanConfig{
			BaseDuration:     30 * time.Second,
			EscalationFactor: 2,
			MaxDuration:      5 * time.Minute,
			Shards:           64,
		},
		Body: BodyConfig{
			MaxBytes: 10 * 1024 * 1024,
		},
		Signatures: SignatureConfig{UseDefaults: true},
		Headers: HeadersConfig{
			UseDefaults: true,
			Strip:       headers.DefaultStrip(),
		},
		Audit: AuditConfig{
			Capacity:      10000,
			FlushInterval: 2 * time.Second,
			BatchSize:     500,
			FlushTimeout:  10 * time.Second,
			File: logging.RotationConfig{
				Filename:   "logs/audit.jsonl",
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			},
		},
		Sweep: SweepConfig{Interval: 30 * time.Second},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}
