package upload

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/upload"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// recordedLayouts are accepted for recording times, interpreted in local time
// unless they carry an offset.
var recordedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// Command creates the upload command.
func Command(env *cli.Env) *cobra.Command {
	var (
		recorded map[string]string
		existing map[string]int64
	)

	cmd := &cobra.Command{
		Use:   "upload <site> <file>...",
		Short: "Upload audio recordings to a site",
		Long: `Upload .wav, .mp3 or .flac recordings to the deployment at <site>.

Each file is either a new recording, which needs the time it was recorded,
or a replacement for an existing data file, which needs that file's id.
Answers can be given up front with --recorded and --existing; any file
left unanswered is asked about on stdin. All files are sent in one request.`,
		Example: `  pam upload Oslo-01 a.wav b.wav --recorded a.wav="2024-05-01 08:30" --existing b.wav=17`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, paths := args[0], args[1:]
			files := make([]upload.File, 0, len(paths))
			for _, path := range paths {
				f, err := upload.LocalFile(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				w, err := a.NewUploadWizard(site, files)
				if err != nil {
					return err
				}
				if err := answerAll(w, recorded, existing, bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr()); err != nil {
					w.Cancel()
					return err
				}

				res, err := w.Submit(ctx)
				if err != nil {
					return err
				}
				for _, e := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", e.String())
				}
				rows := make([][]string, 0, len(res.CreatedFiles))
				for _, f := range res.CreatedFiles {
					// Older backends report only the file name.
					id := ""
					if f.ID != 0 {
						id = strconv.FormatInt(f.ID, 10)
					}
					rows = append(rows, []string{id, f.FileName, output.Timestamp(f.RecordingDT.Time)})
				}
				if err := p.Print(res, []string{"ID", "FILE", "RECORDED"}, rows); err != nil {
					return err
				}
				p.Message("Uploaded %d of %d files to %s", len(res.CreatedFiles), len(files), site)
				return nil
			})
		},
	}

	cmd.Flags().StringToStringVar(&recorded, "recorded", nil, "Recording time per file, e.g. a.wav=\"2024-05-01 08:30\"")
	cmd.Flags().StringToInt64Var(&existing, "existing", nil, "Existing data file id per file, e.g. b.wav=17")

	return cmd
}

// answerAll walks the wizard, taking answers from the flags first and
// prompting for the rest.
func answerAll(w *upload.Wizard, recorded map[string]string, existing map[string]int64, in *bufio.Reader, out io.Writer) error {
	total := w.Remaining()
	for step := 1; ; step++ {
		f, ok := w.Current()
		if !ok {
			return nil
		}
		if id, ok := existing[f.Name]; ok {
			if err := w.Existing(id); err != nil {
				return err
			}
			continue
		}
		if raw, ok := recorded[f.Name]; ok {
			t, err := parseRecorded(raw)
			if err != nil {
				return err
			}
			if err := w.New(t); err != nil {
				return err
			}
			continue
		}
		if err := ask(w, f, step, total, in, out); err != nil {
			return err
		}
	}
}

// ask prompts until the current file gets a valid answer.
func ask(w *upload.Wizard, f upload.File, step, total int, in *bufio.Reader, out io.Writer) error {
	for {
		fmt.Fprintf(out, "[%d/%d] %s (%s)\n", step, total, f.Name, output.Bytes(f.Size))
		fmt.Fprint(out, "  recording time (YYYY-MM-DD HH:MM), #<id> to replace an existing file, empty to cancel: ")
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil && err != io.EOF {
				return errors.New(err).Component("cli").Category(errors.CategoryFileIO).Build()
			}
			return upload.ErrCancelled
		}

		if idText, ok := strings.CutPrefix(line, "#"); ok {
			id, perr := strconv.ParseInt(idText, 10, 64)
			if perr == nil {
				if aerr := w.Existing(id); aerr == nil {
					return nil
				}
			}
			fmt.Fprintln(out, "  not a valid data file id")
		} else if t, perr := parseRecorded(line); perr == nil {
			return w.New(t)
		} else {
			fmt.Fprintln(out, "  "+perr.Error())
		}
		if err != nil {
			return upload.ErrCancelled
		}
	}
}

func parseRecorded(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range recordedLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.ValidationError("unrecognized recording time " + strconv.Quote(raw))
}
