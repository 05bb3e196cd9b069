package health

import (
	"context"
	"errors"

	"mercator-hq/compass/pkg/config"
)

// Pinger is implemented by stores that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a store by pinging it.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("store not configured")
		}
		return p.Ping(ctx)
	}
}

// RegistryCheck verifies the active configuration still validates.
func RegistryCheck(r *config.Registry) CheckFunc {
	return func(ctx context.Context) error {
		if r == nil {
			return errors.New("configuration not loaded")
		}
		return config.Validate(r.Config())
	}
}
