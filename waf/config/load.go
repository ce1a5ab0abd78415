package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"rhinoguard/waf/signature"
	"rhinoguard/waf/verdict"
)

const (
	EnvPrefix        = "RHINOGUARD_"
	ConfigPathEnvVar = "RHINOGUARD_CONFIG"
)

var DefaultConfigPaths = []string{
	"rhinoguard.yaml",
	"/etc/rhinoguard/rhinoguard.yaml",
}

// env values for these keys arrive as comma-separated strings
var sliceConfigPaths = []string{
	"identity.trusted_proxies",
	"identity.forwarded_headers",
	"signatures.disabled",
	"headers.strip",
}

var validate = validator.New()

// Load builds the configuration: defaults, then the YAML file at path (or
// the first one found when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// FindConfigFile returns $RHINOGUARD_CONFIG or the first default path that
// exists, or "" if there is none
func FindConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// RHINOGUARD_RATE__MAX_REQUESTS -> rate.max_requests
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func processSliceFields(k *koanf.Koanf) error {
	for _, p := range sliceConfigPaths {
		s, ok := k.Get(p).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		}
		if err := k.Set(p, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", p, err)
		}
	}
	return nil
}

// Validate runs the struct tag rules plus the checks that span fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error

	if c.Ban.MaxDuration < c.Ban.BaseDuration {
		errs = append(errs, fmt.Errorf("ban.max_duration (%s) is shorter than ban.base_duration (%s)",
			c.Ban.MaxDuration, c.Ban.BaseDuration))
	}
	if c.Rate.UnknownMaxRequests > c.Rate.MaxRequests {
		errs = append(errs, fmt.Errorf("rate.unknown_max_requests (%d) exceeds rate.max_requests (%d)",
			c.Rate.UnknownMaxRequests, c.Rate.MaxRequests))
	}
	for pattern := range c.Body.PathLimits {
		if _, err := path.Match(pattern, "/"); err != nil {
			errs = append(errs, fmt.Errorf("body.path_limits: bad pattern %q: %w", pattern, err))
		}
	}
	if _, err := signature.New(c.SignatureSet()); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.Webhook.Enabled && c.Audit.Webhook.URL == "" {
		errs = append(errs, errors.New("audit.webhook.url is required when the webhook sink is enabled"))
	}
	if c.Audit.File.Enabled && c.Audit.File.Filename == "" {
		errs = append(errs, errors.New("audit.file.filename is required when the file sink is enabled"))
	}
	if c.Server.HTTP3.Enabled && (c.Server.HTTP3.CertFile == "" || c.Server.HTTP3.KeyFile == "") {
		errs = append(errs, errors.New("server.http3 needs cert_file and key_file"))
	}
	for code := range c.BlockPages {
		if !verdict.Reason(code).Blocked() {
			errs = append(errs, fmt.Errorf("block_pages: %q is not a block reason", code))
		}
	}
	for _, h := range c.Headers.Set {
		if strings.TrimSpace(h.Name) == "" {
			errs = append(errs, errors.New("headers.set: header name is required"))
		}
	}

	return errors.Join(errs...)
}
