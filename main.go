package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/cmd"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/buildinfo"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/conf"
)

// buildDate and version are set at build time with
// -ldflags "-X main.version=... -X main.buildDate=..."
var (
	buildDate string
	version   string
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	env := cli.NewEnv(settings, buildinfo.NewContext(version, buildDate))
	rootCmd := cmd.RootCommand(env)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if api.IsAuthError(err) {
			fmt.Fprintln(os.Stderr, "Run 'pam login' to start a session.")
		}
		os.Exit(1)
	}
}
