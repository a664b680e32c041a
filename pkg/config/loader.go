package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DialerYAMLConfig represents the complete dialer.yaml file structure.
type DialerYAMLConfig struct {
	AMI    *AMIConfig      `yaml:"ami"`
	Dialer *DialerDefaults `yaml:"dialer"`
	HTTP   *HTTPConfig     `yaml:"http"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load dialer.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined configuration onto built-in defaults
//  5. Resolve AMI secret from SecretEnv, if set
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"ami_host", cfg.AMI.Host,
		"ami_port", cfg.AMI.Port,
		"max_attempts", cfg.Dialer.MaxAttempts,
		"predictive_ratio", cfg.Dialer.PredictiveRatio)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadDialerYAML()
	if err != nil {
		return nil, NewLoadError("dialer.yaml", err)
	}

	ami := DefaultAMIConfig()
	if yamlCfg.AMI != nil {
		if err := mergo.Merge(ami, yamlCfg.AMI, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge AMI config: %w", err)
		}
	}
	if ami.SecretEnv != "" {
		ami.SecretCiphertext = os.Getenv(ami.SecretEnv)
	}

	dialerDefaults := DefaultDialerDefaults()
	if yamlCfg.Dialer != nil {
		if err := mergo.Merge(dialerDefaults, yamlCfg.Dialer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge dialer defaults: %w", err)
		}
	}

	httpCfg := DefaultHTTPConfig()
	if yamlCfg.HTTP != nil {
		if err := mergo.Merge(httpCfg, yamlCfg.HTTP, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge HTTP config: %w", err)
		}
	}

	return &Config{
		configDir: configDir,
		AMI:       ami,
		Dialer:    dialerDefaults,
		HTTP:      httpCfg,
	}, nil
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadDialerYAML() (*DialerYAMLConfig, error) {
	var cfg DialerYAMLConfig

	path := filepath.Join(l.configDir, "dialer.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file present: defaults-only configuration is valid (dev mode).
			return &cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}
