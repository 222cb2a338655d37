package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/datafiles"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/deployments"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/devices"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/login"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/media"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/observations"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/serve"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/upload"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd/version"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(env *cli.Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pam",
		Short:         "PAM sensor portal client",
		Long:          `Command line client for the PAM sensor portal: deployments, devices, recordings, quality checks and observations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, env); err != nil {
		panic(err)
	}

	versionCmd := version.Command(env)

	subcommands := []*cobra.Command{
		login.Command(env),
		login.LogoutCommand(env),
		login.StatusCommand(env),
		deployments.Command(env),
		devices.Command(env),
		datafiles.Command(env),
		observations.Command(env),
		upload.Command(env),
		media.Command(env),
		serve.Command(env),
		versionCmd,
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no backend settings
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return conf.ValidateSettings(env.Settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
// Defaults come from the loaded settings so flags override file and
// environment values.
func setupFlags(rootCmd *cobra.Command, env *cli.Env) error {
	settings := env.Settings
	flags := rootCmd.PersistentFlags()

	flags.BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	flags.StringVar(&settings.Backend.BaseURL, "backend", settings.Backend.BaseURL, "Sensor portal base URL")
	flags.StringVar(&settings.Session.Path, "session", settings.Session.Path, "Session database path, empty keeps the session in memory")
	flags.StringVar(&env.Output, "output", env.Output, "Output format: table, json")

	for key, name := range map[string]string{
		"debug":           "debug",
		"backend.baseurl": "backend",
		"session.path":    "session",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}

	return nil
}
