// Package cli holds what the pam subcommands share: the loaded settings,
// build metadata, output selection and App construction.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/buildinfo"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/conf"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Env is passed to every subcommand constructor.
type Env struct {
	Settings *conf.Settings
	Build    *buildinfo.Context

	// Output is the --output flag value.
	Output string

	// AppOptions are applied to every App the commands open.
	AppOptions []app.Option
}

// NewEnv returns an Env for settings.
func NewEnv(settings *conf.Settings, build *buildinfo.Context) *Env {
	return &Env{Settings: settings, Build: build, Output: string(output.FormatTable)}
}

// Open builds the App for one command run. The caller closes it.
func (e *Env) Open(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), e.Settings, e.Build, e.AppOptions...)
}

// Run opens the App, calls fn and closes the App again.
func (e *Env) Run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, p *output.Printer) error) error {
	p, err := e.Printer(cmd)
	if err != nil {
		return err
	}
	a, err := e.Open(cmd)
	if err != nil {
		return err
	}
	runErr := fn(cmd.Context(), a, p)
	closeErr := a.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Printer returns the printer selected by --output, writing to the
// command's stdout.
func (e *Env) Printer(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(e.Output)
	if err != nil {
		return nil, errors.ValidationError(err.Error())
	}
	return output.NewPrinter(cmd.OutOrStdout(), format), nil
}

// ParseID parses a positive numeric id argument.
func ParseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ValidationError("invalid " + what + " id " + strconv.Quote(raw))
	}
	return id, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// DecodeFile reads one JSON record from path, or from in when path is "-".
// Unknown fields are rejected so typos do not silently drop values.
func DecodeFile[T any](path string, in io.Reader) (T, error) {
	var out T
	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return out, errors.New(err).
				Component("cli").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	return out, nil
}
