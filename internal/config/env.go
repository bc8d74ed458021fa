package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "RATESIM_"

// LoadDotEnv loads .env next to the config file, or in the working
// directory when no config file is used. Existing variables win and a
// missing file is not an error.
func LoadDotEnv(configPath string) error {
	dir := "."
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			dir = filepath.Dir(abs)
		}
	}
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies RATESIM_* variables from environ, a list of
// KEY=VALUE pairs in the os.Environ format.
func applyEnvOverrides(cfg *Config, environ []string) error {
	env := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		env[strings.TrimPrefix(key, envPrefix)] = value
	}
	if len(env) == 0 {
		return nil
	}

	setString := func(name string, dst *string) {
		if v, ok := env[name]; ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOG_FORMAT", &cfg.LogFormat)
	setString("TIMEZONE", &cfg.Timezone)
	setString("API_ADDR", &cfg.API.Addr)
	setString("STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("STORAGE_DSN", &cfg.Storage.DSN)
	setString("PUBLISH_TOPIC", &cfg.Publish.Topic)

	if v, ok := env["MAX_REQUESTS"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sMAX_REQUESTS: %w", envPrefix, err)
		}
		cfg.Limiter.MaxRequests = n
	}
	if v, ok := env["WINDOW"]; ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sWINDOW: %w", envPrefix, err)
		}
		cfg.Limiter.Window = d
	}
	bools := []struct {
		name string
		dst  *bool
	}{
		{"API_ENABLED", &cfg.API.Enabled},
		{"STORAGE_ENABLED", &cfg.Storage.Enabled},
		{"PUBLISH_ENABLED", &cfg.Publish.Enabled},
	}
	for _, b := range bools {
		v, ok := env[b.name]
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, b.name, err)
		}
		*b.dst = parsed
	}
	if v, ok := env["PUBLISH_BROKERS"]; ok {
		var brokers []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
		cfg.Publish.Brokers = brokers
	}
	return nil
}
