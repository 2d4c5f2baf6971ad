package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// BaseConfig provides common configuration functionality
type BaseConfig struct {
	ConfigPath string
}

// LoadConfig fills config from the explicit path, else from config/{provider}.json.
// An explicit path must exist; the default file is optional. Whatever stays empty is
// left for the provider's environment lookups.
func (c *BaseConfig) LoadConfig(configPath string, provider string, config any) error {
	if configPath != "" {
		if err := readProviderFile(configPath, config); err != nil {
			return fmt.Errorf("%s config: %w", provider, err)
		}
		log.Debug().Str("provider", provider).Str("path", configPath).Msg("Loaded provider config")
		return nil
	}

	defaultPath := filepath.Join("config", provider+".json")
	err := readProviderFile(defaultPath, config)
	switch {
	case err == nil:
		log.Debug().Str("provider", provider).Str("path", defaultPath).Msg("Loaded default provider config")
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("provider", provider).Msg("No provider config file, using environment")
	default:
		return fmt.Errorf("%s config: %w", provider, err)
	}
	return nil
}

func readProviderFile(path string, config any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
