// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "PAM_DEBUG", validateEnvBool},

		{"backend.baseurl", "PAM_BACKEND_URL", validateEnvURL},
		{"backend.timeout", "PAM_BACKEND_TIMEOUT", validateEnvDuration},
		{"backend.ratelimit", "PAM_BACKEND_RATELIMIT", validateEnvFloat},

		{"session.path", "PAM_SESSION_PATH", nil},

		{"credentials.username", "PAM_USERNAME", nil},
		{"credentials.password", "PAM_PASSWORD", nil},

		{"mqtt.enabled", "PAM_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "PAM_MQTT_BROKER", validateEnvURL},
		{"mqtt.username", "PAM_MQTT_USERNAME", nil},
		{"mqtt.password", "PAM_MQTT_PASSWORD", nil},

		{"telemetry.enabled", "PAM_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "PAM_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration such as 30s")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
