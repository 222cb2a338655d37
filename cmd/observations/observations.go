package observations

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Command creates the observations command group.
func Command(env *cli.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "observations",
		Aliases: []string{"observation", "obs"},
		Short:   "List, delete and export species observations",
	}

	cmd.AddCommand(
		listCommand(env),
		deleteCommand(env),
		exportCommand(env),
	)

	return cmd
}

func listCommand(env *cli.Env) *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of observations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 || pageSize < 0 {
				return errors.ValidationError("page must be at least 1 and page size not negative")
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				res, err := a.Portal.Observations(ctx, page, pageSize)
				if err != nil {
					return err
				}
				if err := p.Print(res, tableHeaders, rows(res.Results)); err != nil {
					return err
				}
				p.Message("\nPage %d, %d observations in total", page, res.Count)
				if res.HasNext() {
					p.Message("Next page: --page %d", page+1)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Observations per page (default observations.pagesize)")

	return cmd
}

func deleteCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <observation-id>",
		Short: "Delete an observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "observation")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				if err := a.Portal.DeleteObservation(ctx, id); err != nil {
					return err
				}
				p.Message("Deleted observation %d", id)
				return nil
			})
		},
	}
}

func exportCommand(env *cli.Env) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every observation as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, _ *output.Printer) error {
				var buf bytes.Buffer
				n, err := a.Portal.ExportObservationsCSV(ctx, &buf)
				if err != nil {
					return err
				}
				if outPath == "" || outPath == "-" {
					_, err := cmd.OutOrStdout().Write(buf.Bytes())
					return err
				}
				if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
					return errors.New(err).
						Component("cli").
						Category(errors.CategoryFileIO).
						Context("path", outPath).
						Build()
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d observations to %s\n", n, outPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "file", "f", "", "Write CSV to this file instead of stdout")

	return cmd
}

var tableHeaders = []string{"ID", "DATE", "SPECIES", "COMMON NAME", "SOURCE", "REVIEW", "FILES"}

func rows(list []portal.Observation) [][]string {
	out := make([][]string, 0, len(list))
	for _, o := range list {
		species := o.Taxon.SpeciesName
		if !o.Taxon.Resolved && species == "" {
			species = "taxon " + strconv.FormatInt(o.Taxon.ID, 10)
		}
		review := ""
		if o.NeedsReview {
			review = "yes"
		}
		out = append(out, []string{
			strconv.FormatInt(o.ID, 10),
			output.Timestamp(o.ObsDT.Time),
			species,
			o.Taxon.SpeciesCommonName,
			o.Source,
			review,
			strconv.Itoa(len(o.DataFiles)),
		})
	}
	return out
}
