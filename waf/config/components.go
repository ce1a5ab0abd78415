package config

import (
	"net/http"
	"slices"

	"rhinoguard/waf/autoban"
	"rhinoguard/waf/bodylimits"
	"rhinoguard/waf/ddos"
	"rhinoguard/waf/headers"
	"rhinoguard/waf/security"
	"rhinoguard/waf/signature"
)

// Conversions from the file layout to each component's own Config.

func (c *Config) ResolverConfig() security.Config {
	return security.Config{
		TrustedProxies:   c.Identity.TrustedProxies,
		ForwardedHeaders: c.Identity.ForwardedHeaders,
	}
}

func (c *Config) TrackerConfig() ddos.Config {
	return ddos.Config{
		Window:             c.Rate.Window,
		MaxRequests:        c.Rate.MaxRequests,
		UnknownMaxRequests: c.Rate.UnknownMaxRequests,
		Shards:             c.Rate.Shards,
	}
}

func (c *Config) TableConfig() autoban.Config {
	return autoban.Config{
		BaseDuration:     c.Ban.BaseDuration,
		EscalationFactor: c.Ban.EscalationFactor,
		MaxDuration:      c.Ban.MaxDuration,
		Grace:            c.Ban.Grace,
		Shards:           c.Ban.Shards,
	}
}

func (c *Config) LimiterConfig() bodylimits.Config {
	return bodylimits.Config{
		MaxBytes:   c.Body.MaxBytes,
		PathLimits: c.Body.PathLimits,
	}
}

// SignatureSet returns defaults (minus disabled names) followed by custom ones
func (c *Config) SignatureSet() []signature.Signature {
	var sigs []signature.Signature
	if c.Signatures.UseDefaults {
		for _, s := range signature.DefaultSignatures() {
			if !slices.Contains(c.Signatures.Disabled, s.Name) {
				sigs = append(sigs, s)
			}
		}
	}
	return append(sigs, c.Signatures.Custom...)
}

// InjectorConfig merges the configured headers over the defaults. An empty
// result is a non-nil slice so the injector does not fall back to defaults.
func (c *Config) InjectorConfig() headers.Config {
	hs := []headers.Header{}
	if c.Headers.UseDefaults {
		hs = append(hs, headers.DefaultHeaders()...)
	}
	for _, h := range c.Headers.Set {
		i := slices.IndexFunc(hs, func(d headers.Header) bool {
			return http.CanonicalHeaderKey(d.Name) == http.CanonicalHeaderKey(h.Name)
		})
		if i >= 0 {
			hs[i] = h
			continue
		}
		hs = append(hs, h)
	}
	return headers.Config{Headers: hs, Strip: c.Headers.Strip}
}
