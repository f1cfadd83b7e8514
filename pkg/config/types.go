package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent parley configuration stored as config.toml
// in the .parley/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Client    ClientConfig    `toml:"client"`
	Devserver DevserverConfig `toml:"devserver"`
}

// ClientConfig holds settings for the chat commands that talk to a backend.
type ClientConfig struct {
	// Target is the backend root URL (scheme + host + port).
	Target string `toml:"target,omitempty"`

	// Model is the model name sent with every prompt.
	Model string `toml:"model,omitempty"`

	// Stream selects streaming replies over single-shot requests.
	Stream *bool `toml:"stream,omitempty"`

	// IdleTimeout is a duration string such as "2m".
	IdleTimeout string `toml:"idle_timeout,omitempty"`

	// Persist keeps the session list in .parley/sessions.json between runs.
	Persist *bool `toml:"persist,omitempty"`
}

// DevserverConfig holds settings for the in-memory development backend.
type DevserverConfig struct {
	Listen     string `toml:"listen,omitempty"`
	ChunkDelay string `toml:"chunk_delay,omitempty"`
}

// StreamEnabled reports the effective stream setting.
func (c ClientConfig) StreamEnabled() bool {
	return c.Stream == nil || *c.Stream
}

// PersistEnabled reports the effective persist setting.
func (c ClientConfig) PersistEnabled() bool {
	return c.Persist == nil || *c.Persist
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"client.target": {
		get: func(c *Config) string { return c.Client.Target },
		set: func(c *Config, v string) error { c.Client.Target = v; return nil },
	},
	"client.model": {
		get: func(c *Config) string { return c.Client.Model },
		set: func(c *Config, v string) error { c.Client.Model = v; return nil },
	},
	"client.stream": {
		get: func(c *Config) string { return strconv.FormatBool(c.Client.StreamEnabled()) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for client.stream: %w", err)
			}
			c.Client.Stream = &b
			return nil
		},
	},
	"client.idle_timeout": {
		get: func(c *Config) string { return c.Client.IdleTimeout },
		set: func(c *Config, v string) error {
			if err := validDuration(v); err != nil {
				return fmt.Errorf("invalid value for client.idle_timeout: %w", err)
			}
			c.Client.IdleTimeout = v
			return nil
		},
	},
	"client.persist": {
		get: func(c *Config) string { return strconv.FormatBool(c.Client.PersistEnabled()) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for client.persist: %w", err)
			}
			c.Client.Persist = &b
			return nil
		},
	},
	"devserver.listen": {
		get: func(c *Config) string { return c.Devserver.Listen },
		set: func(c *Config, v string) error { c.Devserver.Listen = v; return nil },
	},
	"devserver.chunk_delay": {
		get: func(c *Config) string { return c.Devserver.ChunkDelay },
		set: func(c *Config, v string) error {
			if err := validDuration(v); err != nil {
				return fmt.Errorf("invalid value for devserver.chunk_delay: %w", err)
			}
			c.Devserver.ChunkDelay = v
			return nil
		},
	},
}

func validDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative duration %q", v)
	}
	return nil
}
