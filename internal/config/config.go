package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every runtime setting the server needs. All values come from
// the environment; there is no config file in deployment.
type Config struct {
	Port                     int
	LLMServerURL             string
	DatabaseURL              string
	JWTSecretKey             string
	EncryptionKey            string
	BetaAccessKey            string
	Algorithm                string
	AccessTokenExpireMinutes int
	WorkspacesRoot           string
}

// required environment variables. Missing any of these must abort process
// start with a diagnostic that names the variable.
var required = []string{
	"LLM_SERVER_URL",
	"DATABASE_URL",
	"JWT_SECRET_KEY",
	"ENCRYPTION_KEY",
	"BETA_ACCESS_KEY",
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	v.SetDefault("WORKSPACES_ROOT", "./workspaces")

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf(
			"missing required environment variables: %s (set them in the deployment environment and restart)",
			strings.Join(missing, ", "))
	}

	cfg := &Config{
		Port:                     v.GetInt("PORT"),
		LLMServerURL:             strings.TrimRight(v.GetString("LLM_SERVER_URL"), "/"),
		DatabaseURL:              v.GetString("DATABASE_URL"),
		JWTSecretKey:             v.GetString("JWT_SECRET_KEY"),
		EncryptionKey:            v.GetString("ENCRYPTION_KEY"),
		BetaAccessKey:            v.GetString("BETA_ACCESS_KEY"),
		Algorithm:                v.GetString("ALGORITHM"),
		AccessTokenExpireMinutes: v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES"),
		WorkspacesRoot:           v.GetString("WORKSPACES_ROOT"),
	}
	if cfg.Algorithm != "HS256" {
		return nil, fmt.Errorf("unsupported token algorithm %q (only HS256 is supported)", cfg.Algorithm)
	}
	return cfg, nil
}
