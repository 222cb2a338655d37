package datafiles

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Command creates the datafiles command group.
func Command(env *cli.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datafiles",
		Aliases: []string{"datafile", "files"},
		Short:   "Browse recordings and their quality checks",
	}

	cmd.AddCommand(
		listCommand(env),
		rangeCommand(env),
		showCommand(env),
		qualityCommand(env),
		checkQualityCommand(env),
	)

	return cmd
}

// parseDate accepts the portal's MM-DD-YYYY and ISO 8601 dates.
func parseDate(name, raw string) (time.Time, error) {
	for _, layout := range []string{portal.DateFormat, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.ValidationError(name + " must be MM-DD-YYYY or YYYY-MM-DD, got " + strconv.Quote(raw))
}

func listCommand(env *cli.Env) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "list <site>",
		Short: "List the data files recorded at a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (from == "") != (to == "") {
				return errors.ValidationError("--from and --to must be given together")
			}
			var start, end time.Time
			if from != "" {
				var err error
				if start, err = parseDate("--from", from); err != nil {
					return err
				}
				if end, err = parseDate("--to", to); err != nil {
					return err
				}
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				var (
					list []portal.DataFile
					err  error
				)
				if from == "" {
					list, err = a.Portal.DataFiles(ctx, args[0])
				} else {
					list, err = a.Portal.DataFilesBetween(ctx, args[0], start, end)
				}
				if err != nil {
					return err
				}
				return p.Print(list, tableHeaders, rows(list))
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First recording day (MM-DD-YYYY)")
	cmd.Flags().StringVar(&to, "to", "", "Last recording day (MM-DD-YYYY)")

	return cmd
}

func rangeCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "range <site>",
		Short: "Show the first and last recording day at a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				r, err := a.Portal.DateRange(ctx, args[0])
				if err != nil {
					return err
				}
				return p.Fields(r,
					[2]string{"First", r.FirstDate.Format(portal.DateFormat)},
					[2]string{"Last", r.LastDate.Format(portal.DateFormat)},
				)
			})
		},
	}
}

func showCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <file-id>",
		Short: "Show one data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "data file")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				f, err := a.Portal.DataFile(ctx, id)
				if err != nil {
					return err
				}
				return p.Fields(f,
					[2]string{"ID", strconv.FormatInt(f.ID, 10)},
					[2]string{"File", f.FileName},
					[2]string{"Format", f.FileFormat},
					[2]string{"Size", output.Bytes(f.FileSize)},
					[2]string{"Recorded", output.Timestamp(f.RecordingDT.Time)},
					[2]string{"Uploaded", output.Timestamp(f.UploadDT.Time)},
					[2]string{"Quality", f.QualityCheckStatus},
					[2]string{"Score", output.Float(f.QualityScore, 2)},
					[2]string{"Issues", strings.Join(f.QualityIssues, "; ")},
				)
			})
		},
	}
}

func qualityCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "quality <file-id>",
		Short: "Show the latest quality check of a data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "data file")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				q, err := a.Portal.QualityStatus(ctx, id)
				if err != nil {
					return err
				}
				return printQuality(p, q)
			})
		},
	}
}

func checkQualityCommand(env *cli.Env) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "check-quality <file-id>",
		Short: "Start a quality check, optionally following it to completion",
		Long: `Start a quality check of one data file. With --watch the status is polled
until the check completes or fails, and every transition is published to
MQTT when mqtt.enabled is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "data file")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				if err := a.Portal.CheckQuality(ctx, id); err != nil {
					return err
				}
				p.Message("Quality check started for file %d", id)
				if !watch {
					return nil
				}
				return watchQuality(ctx, a, p, id)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the check until it finishes")

	return cmd
}

func watchQuality(ctx context.Context, a *app.App, p *output.Printer, id int64) error {
	ctx, stop := cli.SignalContext(ctx)
	defer stop()
	if timeout := a.Settings.Quality.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pub, err := a.QualityPublisher(ctx)
	if err != nil {
		return err
	}
	w := a.Portal.WatchQuality(id, a.WatchConfig(pub))
	unsubscribe := w.Subscribe(func(q portal.QualityStatus) {
		p.Message("%s  %s", time.Now().Format(time.TimeOnly), q.Status)
	})
	defer unsubscribe()

	final, err := w.Run(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New(err).
				Component("cli").
				Category(errors.CategoryTimeout).
				Context("file_id", id).
				Build()
		}
		return err
	}
	return printQuality(p, final)
}

func printQuality(p *output.Printer, q portal.QualityStatus) error {
	last := ""
	if q.LastCheck != nil {
		last = output.Timestamp(q.LastCheck.Time)
	}
	return p.Fields(q,
		[2]string{"Status", q.Status},
		[2]string{"Score", output.Float(q.Score, 2)},
		[2]string{"Issues", strings.Join(q.Issues, "; ")},
		[2]string{"Last check", last},
	)
}

var tableHeaders = []string{"ID", "FILE", "FORMAT", "SIZE", "RECORDED", "QUALITY", "SCORE"}

func rows(list []portal.DataFile) [][]string {
	out := make([][]string, 0, len(list))
	for _, f := range list {
		out = append(out, []string{
			strconv.FormatInt(f.ID, 10),
			f.FileName,
			f.FileFormat,
			output.Bytes(f.FileSize),
			output.Timestamp(f.RecordingDT.Time),
			f.QualityCheckStatus,
			output.Float(f.QualityScore, 2),
		})
	}
	return out
}
