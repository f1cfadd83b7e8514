// Package authcmder provides the auth command for logging in to a chat
// backend and managing the stored token.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/parley/cmd/parley/clientopts"
	"github.com/papercomputeco/parley/pkg/cliui"
	"github.com/papercomputeco/parley/pkg/credentials"
)

const authLongDesc string = `Log in to a chat backend and manage the stored token.

Tokens are stored per backend in credentials.toml in the .parley/ directory.
The PARLEY_TOKEN environment variable overrides any stored token.

Examples:
  parley auth register -u alice          Create an account, then log in
  parley auth login -u alice             Prompt for the password and log in
  echo $TOKEN | parley auth token        Store an existing token
  parley auth status                     Show stored logins
  parley auth logout                     Forget the token and local chats`

const authShortDesc string = "Log in to a chat backend"

func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: authShortDesc,
		Long:  authLongDesc,
	}

	cmd.AddCommand(newLoginCmd(false))
	cmd.AddCommand(newLoginCmd(true))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func newLoginCmd(register bool) *cobra.Command {
	opts := &clientopts.Options{}
	var username string

	use, short := "login", "Log in with a username and password"
	if register {
		use, short = "register", "Create an account and log in"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			in := newPrompter(cmd.InOrStdin(), out)

			if username == "" {
				var err error
				username, err = in.line("Username: ")
				if err != nil {
					return err
				}
			}
			if username == "" {
				return errors.New("username cannot be empty")
			}

			password, err := in.secret("Password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}

			// a stale session list belongs to whoever was logged in before
			opts.Persist = false
			cl, err := opts.NewClient(opts.Logger(), nil)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if register {
				if err := cl.Register(ctx, username, password); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s Registered %s\n", cliui.SuccessMark, cliui.NameStyle.Render(username))
			}

			if err := cl.Login(ctx, username, password); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s Logged in to %s as %s\n",
				cliui.SuccessMark,
				cliui.NameStyle.Render(cl.Target()),
				cliui.NameStyle.Render(username),
			)
			return nil
		},
	}

	clientopts.Register(cmd, opts)
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account name")

	return cmd
}

func newTokenCmd() *cobra.Command {
	opts := &clientopts.Options{}

	cmd := &cobra.Command{
		Use:   "token [token]",
		Short: "Store an existing token",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				token, err = newPrompter(cmd.InOrStdin(), out).secret("Token: ")
				if err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token cannot be empty")
			}

			mgr, err := credentials.NewManager(opts.ConfigDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}
			if err := mgr.SetToken(opts.Target, token, ""); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s Stored token for %s\n", cliui.SuccessMark, cliui.NameStyle.Render(opts.Target))
			return nil
		},
	}

	clientopts.Register(cmd, opts)
	return cmd
}

func newLogoutCmd() *cobra.Command {
	opts := &clientopts.Options{}

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the token and local chats",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := opts.NewClient(opts.Logger(), nil)
			if err != nil {
				return err
			}
			if err := cl.Logout(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Logged out of %s\n", cliui.SuccessMark, cliui.NameStyle.Render(cl.Target()))
			return nil
		},
	}

	clientopts.Register(cmd, opts)
	return cmd
}

func newStatusCmd() *cobra.Command {
	opts := &clientopts.Options{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored logins",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.OutOrStdout(), opts)
		},
	}

	clientopts.Register(cmd, opts)
	return cmd
}

func runStatus(w io.Writer, opts *clientopts.Options) error {
	mgr, err := credentials.NewManager(opts.ConfigDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if os.Getenv(credentials.TokenEnvVar) != "" {
		fmt.Fprintf(w, "%s Using token from %s\n", cliui.WarnStyle.Render("!"), credentials.TokenEnvVar)
	}

	targets, err := mgr.ListTargets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintf(w, "%s Not logged in. Use 'parley auth login' to log in.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	creds, err := mgr.Load()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", cliui.HeaderStyle.Render("Stored logins"))
	for _, t := range targets {
		user := creds.Backends[t].Username
		if user == "" {
			user = "(token)"
		}

		marker := " "
		if strings.TrimRight(opts.Target, "/") == t {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", marker, cliui.SuccessMark, cliui.NameStyle.Render(t), cliui.DimStyle.Render(user))
	}
	return nil
}

// prompter reads answers from the command input. Secrets are read without
// echo when the input is a terminal.
type prompter struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out, r: bufio.NewReader(in)}
}

func (p *prompter) line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)

	s, err := p.r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || s == "") {
		return "", errors.New("no input received")
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(prompt string) (string, error) {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.line(prompt)
	}

	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(p.out) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(strings.TrimSuffix(prompt, ": ")), err)
	}
	return strings.TrimSpace(string(b)), nil
}
