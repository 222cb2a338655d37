// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("backend.baseurl", "http://localhost:8080")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.useragent", "pam-client")
	v.SetDefault("backend.ratelimit", 10.0)
	v.SetDefault("backend.rateburst", 20)

	v.SetDefault("session.path", defaultSessionPath())

	v.SetDefault("cache.staletime", 30*time.Second)
	v.SetDefault("cache.gctime", 5*time.Minute)
	v.SetDefault("cache.taxonttl", time.Hour)

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/pam.log")
	v.SetDefault("logging.fileoutput.level", "debug")

	v.SetDefault("dashboard.listen", "127.0.0.1:8090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "pam/quality")
	v.SetDefault("mqtt.clientid", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")

	v.SetDefault("upload.remotepath", "/usr/src/proj_tabmon_NINA")

	v.SetDefault("quality.pollinterval", 2*time.Second)
	v.SetDefault("quality.timeout", 5*time.Minute)

	v.SetDefault("observations.pagesize", 100)
}
