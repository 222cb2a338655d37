package deployments

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Command creates the deployments command group.
func Command(env *cli.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"deployment", "dep"},
		Short:   "List and manage deployments",
	}

	cmd.AddCommand(
		listCommand(env),
		showCommand(env),
		upsertCommand(env),
		checkQualityCommand(env),
	)

	return cmd
}

func listCommand(env *cli.Env) *cobra.Command {
	var country, state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments, split into active and ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if state != "all" && state != "active" && state != "ended" {
				return errors.ValidationError("state must be all, active or ended")
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				list, err := a.Portal.Deployments(ctx, portal.DeploymentFilter{Country: country})
				if err != nil {
					return err
				}
				active, ended := portal.SplitDeployments(list, time.Now())
				switch state {
				case "active":
					list = active
				case "ended":
					list = ended
				default:
					list = append(active, ended...)
				}
				return p.Print(list, tableHeaders, rows(list))
			})
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "Only deployments in this country")
	cmd.Flags().StringVar(&state, "state", "all", "Filter by state: all, active, ended")

	return cmd
}

func showCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <site>",
		Short: "Show the deployment at a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				d, err := a.Portal.Deployment(ctx, args[0])
				if err != nil {
					return err
				}
				end := ""
				if d.DeploymentEnd != nil {
					end = output.Timestamp(d.DeploymentEnd.Time)
				}
				lastUpload := ""
				if d.LastUpload != nil {
					lastUpload = output.Timestamp(d.LastUpload.Time)
				}
				return p.Fields(d,
					[2]string{"ID", strconv.FormatInt(d.ID, 10)},
					[2]string{"Deployment", d.DeploymentID},
					[2]string{"Site", d.SiteName},
					[2]string{"Country", d.Country},
					[2]string{"Habitat", d.Habitat},
					[2]string{"Latitude", output.Float(d.Latitude, 5)},
					[2]string{"Longitude", output.Float(d.Longitude, 5)},
					[2]string{"Start", output.Timestamp(d.DeploymentStart.Time)},
					[2]string{"End", end},
					[2]string{"Last upload", lastUpload},
					[2]string{"Folder size", output.Bytes(d.FolderSize)},
					[2]string{"Score", output.Float(d.Score, 2)},
					[2]string{"Comment", d.Comment},
				)
			})
		},
	}
}

func upsertCommand(env *cli.Env) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "upsert --file deployment.json",
		Short: "Create or update a deployment from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cli.DecodeFile[portal.Deployment](file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				res, err := a.Portal.UpsertDeployment(ctx, d)
				if err != nil {
					return err
				}
				verb := "Updated"
				if res.Created {
					verb = "Created"
				}
				p.Message("%s deployment %s", verb, d.DeploymentID)
				if p.Format() == output.FormatJSON {
					return p.JSON(res)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with the deployment, - for stdin")

	return cmd
}

func checkQualityCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "check-quality <deployment-id>",
		Short: "Queue a quality check for every file of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "deployment")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				total, err := a.Portal.CheckQualityBulk(ctx, id)
				if err != nil {
					return err
				}
				p.Message("Queued quality checks for %d files", total)
				if p.Format() == output.FormatJSON {
					return p.JSON(map[string]int{"total_files": total})
				}
				return nil
			})
		},
	}
}

var tableHeaders = []string{"ID", "DEPLOYMENT", "SITE", "COUNTRY", "START", "END", "LAST UPLOAD"}

func rows(list []portal.Deployment) [][]string {
	out := make([][]string, 0, len(list))
	for _, d := range list {
		end, last := "", ""
		if d.DeploymentEnd != nil {
			end = output.Timestamp(d.DeploymentEnd.Time)
		}
		if d.LastUpload != nil {
			last = output.Timestamp(d.LastUpload.Time)
		}
		out = append(out, []string{
			strconv.FormatInt(d.ID, 10),
			d.DeploymentID,
			d.SiteName,
			d.Country,
			output.Timestamp(d.DeploymentStart.Time),
			end,
			last,
		})
	}
	return out
}
