package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/media"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// DefaultBuckets is the waveform width used when --buckets is not set.
const DefaultBuckets = 64

// sparks draw a peak in eight levels.
var sparks = []rune("▁▂▃▄▅▆▇█")

// Command creates the media command group.
func Command(env *cli.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Download and inspect recording audio",
	}

	cmd.AddCommand(
		infoCommand(env),
		downloadCommand(env),
		waveformCommand(env),
	)

	return cmd
}

func infoCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file-id>",
		Short: "Load a recording and show its audio header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "data file")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				player := a.Player()
				if err := player.Load(ctx, id); err != nil {
					return err
				}
				info, blob := player.Info(), player.Blob()
				res := map[string]any{
					"file_id":          id,
					"content_type":     blob.ContentType(),
					"size":             blob.Size(),
					"sample_rate":      info.SampleRate,
					"channels":         info.Channels,
					"bit_depth":        info.BitDepth,
					"duration_seconds": info.Duration.Seconds(),
				}
				duration := "unknown"
				if info.Duration > 0 {
					duration = info.Duration.String()
				}
				return p.Fields(res,
					[2]string{"File", strconv.FormatInt(id, 10)},
					[2]string{"Type", blob.ContentType()},
					[2]string{"Size", output.Bytes(blob.Size())},
					[2]string{"Sample rate", strconv.Itoa(info.SampleRate)},
					[2]string{"Channels", strconv.Itoa(info.Channels)},
					[2]string{"Bit depth", strconv.Itoa(info.BitDepth)},
					[2]string{"Duration", duration},
				)
			})
		},
	}
}

func downloadCommand(env *cli.Env) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <file-id>",
		Short: "Save a recording to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "data file")
			if err != nil {
				return err
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				target := outPath
				if target == "" {
					f, err := a.Portal.DataFile(ctx, id)
					if err != nil {
						return err
					}
					target = filepath.Base(f.FileName)
					if target == "." || target == string(filepath.Separator) {
						target = "datafile-" + strconv.FormatInt(id, 10)
					}
				}

				blob, err := media.FetchBlob(ctx, a.API, id)
				if err != nil {
					return err
				}
				defer releaseBlob(blob, id)

				n, err := copyBlob(blob, target)
				if err != nil {
					return err
				}
				p.Message("Saved %s (%s)", target, output.Bytes(n))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "file", "f", "", "Destination path (default the recording's file name)")

	return cmd
}

func waveformCommand(env *cli.Env) *cobra.Command {
	var buckets int

	cmd := &cobra.Command{
		Use:   "waveform <file-id>",
		Short: "Print the peak envelope of a WAV or FLAC recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cli.ParseID(args[0], "data file")
			if err != nil {
				return err
			}
			if buckets <= 0 {
				return errors.ValidationError("--buckets must be positive")
			}
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				blob, err := media.FetchBlob(ctx, a.API, id)
				if err != nil {
					return err
				}
				defer releaseBlob(blob, id)

				peaks, info, err := media.Waveform(blob, buckets)
				if err != nil {
					return err
				}
				if p.Format() == output.FormatJSON {
					return p.JSON(map[string]any{
						"file_id":          id,
						"peaks":            peaks,
						"sample_rate":      info.SampleRate,
						"duration_seconds": info.Duration.Seconds(),
					})
				}
				p.Message("%s", Sparkline(peaks))
				p.Message("%s, %d Hz, %d ch", info.Duration, info.SampleRate, info.Channels)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&buckets, "buckets", DefaultBuckets, "Number of peaks to compute")

	return cmd
}

// Sparkline renders normalized peaks as block characters.
func Sparkline(peaks []float32) string {
	var b strings.Builder
	top := len(sparks) - 1
	for _, v := range peaks {
		level := int(v*float32(top) + 0.5)
		level = max(0, min(top, level))
		b.WriteRune(sparks[level])
	}
	return b.String()
}

func copyBlob(blob *media.Blob, target string) (int64, error) {
	src, err := blob.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return 0, errors.New(err).Component("cli").Category(errors.CategoryFileIO).Context("path", target).Build()
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.New(err).Component("cli").Category(errors.CategoryFileIO).Context("path", target).Build()
	}
	return n, nil
}

func releaseBlob(blob *media.Blob, id int64) {
	if err := blob.Release(); err != nil {
		logger.Global().Module("cli").Warn("failed to release audio blob", logger.Int64("file_id", id), logger.Error(err))
	}
}
