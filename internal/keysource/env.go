package keysource

import (
	"context"
	"os"
)

// EnvSource reads the key from an environment variable.
type EnvSource struct {
	Var string
}

func NewEnv(name string) *EnvSource {
	if name == "" {
		name = DefaultEnvVar
	}
	return &EnvSource{Var: name}
}

func (s *EnvSource) Name() string { return "env:" + s.Var }

// Fetch returns an empty string when the variable is unset; Load reports
// that as ErrNoKey and callers outside production may fall back.
func (s *EnvSource) Fetch(_ context.Context) (string, error) {
	return os.Getenv(s.Var), nil
}
