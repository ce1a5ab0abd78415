package ddos

import "time"

// Config holds the sliding-window settings
type Config struct {
	Window             time.Duration
	MaxRequests        int
	UnknownMaxRequests int // budget for security.Unknown, defaults to MaxRequests/4
	Shards             int
}

// DefaultConfig returns sensible defaults for most apps
func DefaultConfig() Config {
	return Config{
		Window:      10 * time.Second,
		MaxRequests: 100,
		Shards:      64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = def.MaxRequests
	}
	if c.UnknownMaxRequests <= 0 {
		c.UnknownMaxRequests = max(1, c.MaxRequests/4)
	}
	// unresolvable clients never get a looser budget than everyone else
	if c.UnknownMaxRequests > c.MaxRequests {
		c.UnknownMaxRequests = c.MaxRequests
	}
	if c.Shards <= 0 {
		c.Shards = def.Shards
	}
	c.Shards = nextPow2(c.Shards)
	return c
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
