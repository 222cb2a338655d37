package serve

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Command creates the serve command.
func Command(env *cli.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the portal pages as JSON on a local port",
		Long: `Start the local dashboard. Deployments, devices, data files, quality checks
and observations are served as JSON from the shared query cache, together with
/health and Prometheus /metrics. Log in first with 'pam login'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			cmd.SetContext(ctx)

			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				srv, err := a.Dashboard()
				if err != nil {
					return err
				}
				if !a.Auth.IsAuthenticated() {
					p.Message("Not logged in; portal endpoints answer 401 until 'pam login'")
				}
				p.Message("Dashboard listening on http://%s", a.Settings.Dashboard.Listen)
				return srv.Run(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&env.Settings.Dashboard.Listen, "listen", env.Settings.Dashboard.Listen, "Address to listen on")
	_ = viper.BindPFlag("dashboard.listen", cmd.Flags().Lookup("listen"))

	return cmd
}
