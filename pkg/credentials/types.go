package credentials

// Credentials represents the stored login tokens in credentials.toml, keyed
// by backend URL.
type Credentials struct {
	Version  int                          `toml:"version"`
	Backends map[string]BackendCredential `toml:"backends"`
}

// BackendCredential holds the bearer token issued by one backend.
type BackendCredential struct {
	Token    string `toml:"token"`
	Username string `toml:"username,omitempty"`
}
