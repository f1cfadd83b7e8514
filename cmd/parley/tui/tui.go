// Package tuicmder provides the tui command, a full-screen chat client with
// a chat list and a live conversation pane.
package tuicmder

import (
	"context"
	"fmt"
	"os"

	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/cmd/parley/clientopts"
)

func init() {
	// Force TrueColor profile to fix lipgloss color detection issue
	// See: https://github.com/charmbracelet/lipgloss/issues/439
	renderer := lipgloss.NewRenderer(os.Stdout, termenv.WithProfile(termenv.TrueColor))
	renderer.SetColorProfile(termenv.TrueColor)
	lipgloss.SetDefaultRenderer(renderer)
}

const tuiLongDesc string = `Open a full-screen chat client.

The left pane lists your chats, the right pane shows the selected
conversation with replies growing live as they stream in. Completed replies
are rendered as markdown.

Keys:
  enter    Send the prompt, or open the highlighted chat
  tab      Switch between the prompt and the chat list
  ctrl+n   Start a new chat
  ctrl+x   Delete the highlighted chat
  ctrl+s   Toggle streaming
  ctrl+r   Reload the chat list
  esc      Stop the reply in progress
  ctrl+c   Quit`

const tuiShortDesc string = "Full-screen chat client"

type tuiCommander struct {
	opts clientopts.Options
}

func NewTUICmd() *cobra.Command {
	cmder := &tuiCommander{}

	cmd := &cobra.Command{
		Use:   "tui",
		Short: tuiShortDesc,
		Long:  tuiLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	clientopts.Register(cmd, &cmder.opts)
	clientopts.RegisterLogFile(cmd, &cmder.opts)

	return cmd
}

func (c *tuiCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, closeLog, err := c.opts.LoggerWithFile()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	cl, err := c.opts.NewClient(logger, nil)
	if err != nil {
		return err
	}

	model := newTUIModel(ctx, cl, c.opts)
	defer model.close()

	program := bubbletea.NewProgram(model,
		bubbletea.WithContext(ctx),
		bubbletea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}

	if err := cl.Close(); err != nil {
		logger.Warn("saving sessions", "error", err)
	}
	if cl.LoggedOut() {
		fmt.Fprintln(os.Stderr, "Session expired. Run \"parley auth login\" to continue.")
	}
	return nil
}
