package login

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/pkg/output"
)

// Command creates the login command. The password is taken from
// PAM_PASSWORD, or prompted for.
func Command(env *cli.Env) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the sensor portal",
		Long: `Exchange a username and password for a session. The session is stored
locally and reused by later commands until 'pam logout'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				password := env.Settings.Credentials.Password
				if username == "" {
					username = env.Settings.Credentials.Username
				}
				in := bufio.NewReader(cmd.InOrStdin())
				if username == "" {
					var err error
					if username, err = prompt(cmd.ErrOrStderr(), in, "Username: "); err != nil {
						return err
					}
				}
				if password == "" {
					var err error
					if password, err = readPassword(cmd, in); err != nil {
						return err
					}
				}

				if err := a.Auth.Login(ctx, username, password); err != nil {
					return err
				}
				user := a.Auth.User()
				return p.Fields(user,
					[2]string{"Logged in as", user.Username},
					[2]string{"Expires", output.Timestamp(user.ExpiresAt)},
				)
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Portal username (default PAM_USERNAME)")

	return cmd
}

// LogoutCommand creates the logout command.
func LogoutCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				a.Auth.Logout(ctx)
				p.Message("Logged out")
				return nil
			})
		},
	}
}

// StatusCommand creates the status command.
func StatusCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Run(cmd, func(ctx context.Context, a *app.App, p *output.Printer) error {
				snap := a.Auth.Snapshot()
				status := struct {
					Backend       string `json:"backend"`
					State         string `json:"state"`
					Authenticated bool   `json:"authenticated"`
					Username      string `json:"username,omitempty"`
				}{
					Backend:       env.Settings.Backend.BaseURL,
					State:         snap.State.String(),
					Authenticated: a.Auth.IsAuthenticated(),
					Username:      snap.User.Username,
				}
				return p.Fields(status,
					[2]string{"Backend", status.Backend},
					[2]string{"State", status.State},
					[2]string{"User", status.Username},
				)
			})
		},
	}
}

func prompt(w io.Writer, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errors.ValidationError("no input for " + strings.TrimSuffix(label, ": "))
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo from a terminal, otherwise one line of input.
func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", errors.New(err).Component("cli").Category(errors.CategoryFileIO).Build()
		}
		return string(b), nil
	}
	return prompt(cmd.ErrOrStderr(), in, "Password: ")
}
