package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rdesksystems/dialer-engine/pkg/ami"
	"github.com/rdesksystems/dialer-engine/pkg/config"
)

// ErrOperatorRequired guards operations that expose secrets.
var ErrOperatorRequired = errors.New("operator role required")

type operatorKey struct{}

// WithOperator marks a context as carrying the operator role. The caller
// (an operator console, not the public HTTP surface) is responsible for
// authenticating before setting this.
func WithOperator(ctx context.Context) context.Context {
	return context.WithValue(ctx, operatorKey{}, true)
}

// IsOperator reports whether the context carries the operator role.
func IsOperator(ctx context.Context) bool {
	v, _ := ctx.Value(operatorKey{}).(bool)
	return v
}

// RevealSecret returns the cleartext AMI secret. Gated on the operator
// role; the secret is otherwise decrypted only at the point of use inside
// the session's login handshake.
func (e *Engine) RevealSecret(ctx context.Context) (string, error) {
	if !IsOperator(ctx) {
		return "", ErrOperatorRequired
	}
	return e.cfg.AMI.Secret()
}

// TestAMIConnection performs a connectivity smoke test against the given
// AMI settings: connect, authenticate, disconnect. No campaign state is
// touched; useful for validating switch configuration changes.
func (e *Engine) TestAMIConnection(ctx context.Context, cfg *config.AMIConfig) error {
	s := ami.NewSession(cfg)
	if err := s.Connect(ctx); err != nil {
		if errors.Is(err, ami.ErrAuthFailed) {
			return WrapError(KindAMIAuthFailed, "AMI login rejected", err)
		}
		return WrapError(KindAMIUnreachable, "cannot reach AMI", err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing test session: %w", err)
	}
	return nil
}
