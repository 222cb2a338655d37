// Package conf loads and validates the client configuration.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
)

// Settings contains all configuration options for the PAM client.
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug mode

	Backend      BackendSettings      `yaml:"backend"`
	Session      SessionSettings      `yaml:"session"`
	Cache        CacheSettings        `yaml:"cache"`
	Logging      logger.LoggingConfig `yaml:"logging"`
	Dashboard    DashboardSettings    `yaml:"dashboard"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
	Upload       UploadSettings       `yaml:"upload"`
	Quality      QualitySettings      `yaml:"quality"`
	Observations ObservationSettings  `yaml:"observations"`

	// Credentials are read from PAM_USERNAME / PAM_PASSWORD only and never written back.
	Credentials Credentials `yaml:"-" mapstructure:"credentials"`
}

// BackendSettings describes the sensor portal REST backend.
type BackendSettings struct {
	BaseURL   string        `yaml:"baseurl"`   // e.g. https://portal.example.org
	Timeout   time.Duration `yaml:"timeout"`   // per request timeout
	UserAgent string        `yaml:"useragent"` // User-Agent header
	RateLimit float64       `yaml:"ratelimit"` // requests per second, 0 disables limiting
	RateBurst int           `yaml:"rateburst"` // burst size for the limiter
}

// SessionSettings contains token store settings.
type SessionSettings struct {
	Path string `yaml:"path"` // sqlite file holding the session; empty keeps it in memory
}

// CacheSettings tunes the query cache.
type CacheSettings struct {
	StaleTime time.Duration `yaml:"staletime"` // how long fetched data counts as fresh
	GCTime    time.Duration `yaml:"gctime"`    // how long unused entries are kept
	TaxonTTL  time.Duration `yaml:"taxonttl"`  // taxon memo lifetime
}

// DashboardSettings contains settings for the local dashboard server.
type DashboardSettings struct {
	Listen string `yaml:"listen"` // address for `pam serve`
}

// MQTTSettings configures the optional quality status publisher.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`   // tcp://host:1883
	Topic    string `yaml:"topic"`    // base topic
	ClientID string `yaml:"clientid"` // empty generates one
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// UploadSettings configures the upload wizard.
type UploadSettings struct {
	RemotePath string `yaml:"remotepath"` // storage path announced for registered files
}

// QualitySettings configures quality status polling.
type QualitySettings struct {
	PollInterval time.Duration `yaml:"pollinterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ObservationSettings configures observation listing.
type ObservationSettings struct {
	PageSize int `yaml:"pagesize"`
}

// Credentials hold the login used by non-interactive commands.
type Credentials struct {
	Username string
	Password string
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file from the default paths, creating one with
// defaults if none exists, and stores the result as the current settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	loadDotEnv()

	if err := initViper(viper.GetViper()); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings(viper.GetViper())
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// LoadFile reads settings from an explicit config file using a private viper
// instance. The global settings are left untouched.
func LoadFile(path string) (*Settings, error) {
	loadDotEnv()

	v := viper.New()
	setDefaultConfig(v)
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return unmarshalSettings(v)
}

func unmarshalSettings(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.Credentials = Credentials{
		Username: v.GetString("credentials.username"),
		Password: v.GetString("credentials.password"),
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the defaults to dir/config.yaml and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return fmt.Errorf("error building default config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := SaveYAMLConfig(configPath, settings); err != nil {
		return err
	}

	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// loadDotEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		logger.Global().Module("conf").Warn("failed to load .env file", logger.Error(err))
	}
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically via a temp file and rename.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// MQTT password may be present
	if err := os.Chmod(tempFileName, 0o600); err != nil {
		return fmt.Errorf("error setting config file permissions: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
