// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateBackendSettings(&settings.Backend); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Cache.StaleTime < 0 || settings.Cache.GCTime < 0 {
		ve.Errors = append(ve.Errors, "cache durations must not be negative")
	}

	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			ve.Errors = append(ve.Errors, "mqtt.broker is required when MQTT is enabled")
		}
		if strings.TrimSpace(settings.MQTT.Topic) == "" {
			ve.Errors = append(ve.Errors, "mqtt.topic is required when MQTT is enabled")
		}
	}

	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.dsn is required when telemetry is enabled")
	}

	if settings.Quality.PollInterval <= 0 {
		ve.Errors = append(ve.Errors, "quality.pollinterval must be positive")
	}

	if settings.Observations.PageSize <= 0 {
		ve.Errors = append(ve.Errors, "observations.pagesize must be positive")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBackendSettings(backend *BackendSettings) error {
	u, err := url.Parse(backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.baseurl %q must be an absolute URL", backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.baseurl scheme must be http or https")
	}
	if backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if backend.RateLimit < 0 {
		return fmt.Errorf("backend.ratelimit must not be negative")
	}
	if backend.RateLimit > 0 && backend.RateBurst < 1 {
		return fmt.Errorf("backend.rateburst must be at least 1 when rate limiting is enabled")
	}
	return nil
}
