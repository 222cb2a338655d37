package version

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
)

// Command creates the version command.
func Command(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := env.Printer(cmd)
			if err != nil {
				return err
			}
			info := map[string]string{
				"version":    env.Build.Version(),
				"build_date": env.Build.BuildDate(),
				"go":         runtime.Version(),
			}
			return p.Fields(info,
				[2]string{"Version", env.Build.Version()},
				[2]string{"Built", env.Build.BuildDate()},
				[2]string{"Go", runtime.Version()},
			)
		},
	}
}
