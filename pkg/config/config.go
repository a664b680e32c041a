// Package config loads and validates the dialer engine's static configuration:
// AMI connection settings, per-campaign pacing defaults, and the HTTP façade.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize().
type Config struct {
	configDir string

	// AMI holds the connection settings for the single switch this engine talks to.
	AMI *AMIConfig

	// Dialer holds the system-wide pacing defaults applied when a campaign
	// doesn't override them.
	Dialer *DialerDefaults

	// HTTP holds the façade server settings.
	HTTP *HTTPConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// AMIConfig holds the connection settings for the AMI session.
type AMIConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`

	// SecretCiphertext is the value stored at rest. It is never the cleartext
	// AMI secret — Secret() below resolves it through the configured Decrypter.
	SecretCiphertext string `yaml:"secret"`

	// SecretEnv, if set, overrides SecretCiphertext with the value of an
	// environment variable at load time, so secrets stay out of YAML.
	SecretEnv string `yaml:"secret_env"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ActionTimeout  time.Duration `yaml:"action_timeout"`
	KeepaliveEvery time.Duration `yaml:"keepalive_every"`
	KeepaliveOn    bool          `yaml:"keepalive_on"`

	decrypter Decrypter
}

// Secret resolves the cleartext AMI secret via the configured Decrypter.
// Outside the engine's own login handshake this is reachable only through
// the operator-gated reveal path.
func (c *AMIConfig) Secret() (string, error) {
	d := c.decrypter
	if d == nil {
		d = IdentityDecrypter{}
	}
	return d.Decrypt(c.SecretCiphertext)
}

// WithDecrypter attaches a Decrypter, returning the receiver for chaining.
func (c *AMIConfig) WithDecrypter(d Decrypter) *AMIConfig {
	c.decrypter = d
	return c
}

// Decrypter resolves an at-rest secret ciphertext into its cleartext value.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// IdentityDecrypter is a no-op Decrypter for local development: the
// "ciphertext" is actually cleartext. Production deployments should supply a
// KMS-backed Decrypter instead.
type IdentityDecrypter struct{}

// Decrypt returns ciphertext unchanged.
func (IdentityDecrypter) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

// HTTPConfig holds the façade server's listen settings.
type HTTPConfig struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
}

// DialerDefaults holds the system-wide pacing defaults used when a campaign
// row doesn't specify its own values (campaigns are owned by the
// out-of-scope CRUD surface; these are the fallbacks the engine applies).
type DialerDefaults struct {
	MaxAttempts        int           `yaml:"max_attempts" validate:"min=1"`
	RetryDelayMinutes  int           `yaml:"retry_delay_minutes" validate:"min=0"`
	PredictiveRatio    float64       `yaml:"predictive_ratio" validate:"min=0"`
	TurboDelaySeconds  int           `yaml:"turbo_delay_seconds" validate:"min=1"`
	PredictiveInterval time.Duration `yaml:"predictive_interval"`
	NoLeadsBackoff     time.Duration `yaml:"no_leads_backoff"`
	ShutdownBudget     time.Duration `yaml:"shutdown_budget"`
}
