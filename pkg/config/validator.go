package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
// Struct-tag rules run first; cross-field and range checks tags can't express
// follow.
func (v *Validator) ValidateAll() error {
	if err := v.validateStructTags(); err != nil {
		return err
	}

	if err := v.validateAMI(); err != nil {
		return fmt.Errorf("AMI validation failed: %w", err)
	}

	if err := v.validateDialer(); err != nil {
		return fmt.Errorf("dialer validation failed: %w", err)
	}

	if err := v.validateHTTP(); err != nil {
		return fmt.Errorf("HTTP validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateStructTags() error {
	if v.cfg.Dialer == nil {
		return fmt.Errorf("dialer defaults are nil")
	}
	if err := v.v.Struct(v.cfg.Dialer); err != nil {
		return NewValidationError("dialer", "-", "", fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	return nil
}

func (v *Validator) validateAMI() error {
	a := v.cfg.AMI
	if a == nil {
		return fmt.Errorf("AMI configuration is nil")
	}
	if a.Host == "" {
		return NewValidationError("ami", "-", "host", ErrMissingRequiredField)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return NewValidationError("ami", "-", "port", fmt.Errorf("%w: got %d", ErrInvalidValue, a.Port))
	}
	if a.Username == "" {
		return NewValidationError("ami", "-", "username", ErrMissingRequiredField)
	}
	if a.ConnectTimeout <= 0 {
		return NewValidationError("ami", "-", "connect_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if a.ActionTimeout <= 0 {
		return NewValidationError("ami", "-", "action_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if a.KeepaliveOn && a.KeepaliveEvery <= 0 {
		return NewValidationError("ami", "-", "keepalive_every", fmt.Errorf("%w: must be positive when keepalive_on is true", ErrInvalidValue))
	}
	return nil
}

// validateDialer checks the rules validate struct tags can't express:
// durations (mergo/yaml produce zero values that min= on an int tag wouldn't
// catch since time.Duration is itself an int64).
func (v *Validator) validateDialer() error {
	d := v.cfg.Dialer
	if d == nil {
		return fmt.Errorf("dialer defaults are nil")
	}
	if d.PredictiveInterval <= 0 {
		return NewValidationError("dialer", "-", "predictive_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if d.NoLeadsBackoff <= 0 {
		return NewValidationError("dialer", "-", "no_leads_backoff", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if d.ShutdownBudget <= 0 {
		return NewValidationError("dialer", "-", "shutdown_budget", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateHTTP() error {
	h := v.cfg.HTTP
	if h == nil {
		return fmt.Errorf("HTTP configuration is nil")
	}
	if h.Port == "" {
		return NewValidationError("http", "-", "port", ErrMissingRequiredField)
	}
	return nil
}
