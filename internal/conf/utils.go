// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

const (
	osWindows = "windows"
	appDir    = "pam"
)

// GetDefaultConfigPaths returns the default configuration directories for the
// current operating system. If one of them already holds config.yaml, only
// that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			filepath.Join(homeDir, "AppData", "Roaming", appDir),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", appDir),
			filepath.Join("/etc", appDir),
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// defaultSessionPath places the session database next to the user config.
func defaultSessionPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	if runtime.GOOS == osWindows {
		return filepath.Join(homeDir, "AppData", "Roaming", appDir, "session.db")
	}
	return filepath.Join(homeDir, ".config", appDir, "session.db")
}
