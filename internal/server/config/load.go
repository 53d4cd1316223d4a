package config

import (
	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/infra/confloader"
)

// Load reads path (optional) and ROUTEMESH_* environment variables over
// the defaults and verifies the result.
func Load(path string) (*ServerConfig, *confloader.Loader, error) {
	loader := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithEnvPrefix(confloader.DefaultEnvPrefix),
	)
	cfg := Default()
	if err := loader.Load(cfg); err != nil {
		return nil, nil, domain.ErrConfigInvalid.WithDetails(err.Error()).WithCause(err)
	}
	if err := Verify(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// Reload loads a fresh configuration with loader. The running
// configuration is not modified.
func Reload(loader *confloader.Loader) (*ServerConfig, error) {
	cfg := Default()
	if err := loader.Reload(cfg); err != nil {
		return nil, domain.ErrConfigInvalid.WithDetails(err.Error()).WithCause(err)
	}
	if err := Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
