package config

const (
	defaultClientTarget      = "http://localhost:8080"
	defaultClientModel       = "llama3"
	defaultClientIdleTimeout = "2m0s"

	defaultDevserverListen     = ":8080"
	defaultDevserverChunkDelay = "40ms"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	stream := true
	persist := true

	return &Config{
		Version: CurrentV,
		Client: ClientConfig{
			Target:      defaultClientTarget,
			Model:       defaultClientModel,
			Stream:      &stream,
			IdleTimeout: defaultClientIdleTimeout,
			Persist:     &persist,
		},
		Devserver: DevserverConfig{
			Listen:     defaultDevserverListen,
			ChunkDelay: defaultDevserverChunkDelay,
		},
	}
}
