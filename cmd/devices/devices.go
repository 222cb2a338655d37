package devices

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Command creates the devices command group.
func Command(env *cli.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"device"},
		Short:   "List and manage recording devices",
	}

	cmd.AddCommand(
		listCommand(env),
		showCommand(env),
		siteCommand(env),
		upsertCommand(env),
	)

	return cmd
}

func listCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				list, err := a.Portal.Devices(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(list))
				for _, d := range list {
					rows = append(rows, []string{
						strconv.FormatInt(d.ID, 10), d.DeviceID, d.Name, d.Configuration, d.SDCardSize.String(),
					})
				}
				return p.Print(list, []string{"ID", "DEVICE", "NAME", "CONFIGURATION", "SD CARD"}, rows)
			})
		},
	}
}

func showCommand(env *cli.Env) *cobra.Command {
	var bySite bool

	cmd := &cobra.Command{
		Use:   "show <device-id>",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				var (
					d   portal.Device
					err error
				)
				if bySite {
					d, err = a.Portal.DeviceForSite(ctx, args[0])
				} else {
					d, err = a.Portal.Device(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return p.Fields(d,
					[2]string{"ID", strconv.FormatInt(d.ID, 10)},
					[2]string{"Device", d.DeviceID},
					[2]string{"Name", d.Name},
					[2]string{"Configuration", d.Configuration},
					[2]string{"SIM ICC", d.SIMCardICC},
					[2]string{"SIM batch", d.SIMCardBatch},
					[2]string{"SD card", d.SDCardSize.String()},
				)
			})
		},
	}

	cmd.Flags().BoolVar(&bySite, "site", false, "Treat the argument as a site name")

	return cmd
}

func siteCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "site <device-id>",
		Short: "Show the last site a device was seen at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				site, known, err := a.Portal.SiteForDevice(ctx, args[0])
				if err != nil {
					return err
				}
				res := map[string]any{"device_id": args[0], "site_name": site, "known": known}
				if !known {
					site = "unknown"
				}
				return p.Fields(res,
					[2]string{"Device", args[0]},
					[2]string{"Site", site},
				)
			})
		},
	}
}

func upsertCommand(env *cli.Env) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "upsert --file device.json",
		Short: "Create or update a device from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cli.DecodeFile[portal.Device](file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				res, err := a.Portal.UpsertDevice(ctx, d)
				if err != nil {
					return err
				}
				verb := "Updated"
				if res.Created {
					verb = "Created"
				}
				p.Message("%s device %s", verb, d.DeviceID)
				if p.Format() == output.FormatJSON {
					return p.JSON(res)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with the device, - for stdin")

	return cmd
}
