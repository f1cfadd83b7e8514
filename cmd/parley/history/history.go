// Package historycmder provides the history command for listing, showing
// and deleting chats stored on the backend.
package historycmder

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/cmd/parley/clientopts"
	"github.com/papercomputeco/parley/pkg/cliui"
	"github.com/papercomputeco/parley/pkg/client"
	"github.com/papercomputeco/parley/pkg/session"
)

const historyLongDesc string = `Inspect the chats stored on the backend.

Examples:
  parley history list
  parley history show 12
  parley history delete 12`

const historyShortDesc string = "List, show and delete backend chats"

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: historyShortDesc,
		Long:  historyLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newDeleteCmd())

	return cmd
}

// newSubCmd wires the shared client flags and builds a refreshed client
// before calling fn.
func newSubCmd(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, w io.Writer, cl *client.Client, args []string) error) *cobra.Command {
	opts := &clientopts.Options{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// history always reflects the backend, never a persisted list
			opts.Persist = false

			cl, err := opts.NewClient(opts.Logger(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			if !cl.Authenticated() {
				return fmt.Errorf("not logged in to %s: run \"parley auth login\"", cl.Target())
			}

			ctx := cmd.Context()
			if err := cl.Refresh(ctx); err != nil {
				return err
			}
			return fn(ctx, cmd.OutOrStdout(), cl, args)
		},
	}

	clientopts.Register(cmd, opts)
	return cmd
}

func newListCmd() *cobra.Command {
	return newSubCmd("list", "List chats, newest first", cobra.NoArgs, runList)
}

func newShowCmd() *cobra.Command {
	return newSubCmd("show <chat-id>", "Print the messages of a chat", cobra.ExactArgs(1), runShow)
}

func newDeleteCmd() *cobra.Command {
	return newSubCmd("delete <chat-id>", "Delete a chat", cobra.ExactArgs(1), runDelete)
}

func runList(_ context.Context, w io.Writer, cl *client.Client, _ []string) error {
	list := cl.Store().List()
	if len(list) == 0 {
		fmt.Fprintf(w, "%s No chats.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	for _, sess := range list {
		if !sess.Bound() {
			continue
		}
		fmt.Fprintf(w, "%s  %s  %s\n",
			cliui.IDStyle.Render(fmt.Sprintf("%6d", sess.ChatID)),
			cliui.DimStyle.Render(sess.CreatedAt.Local().Format("2006-01-02 15:04")),
			sess.Title,
		)
	}
	return nil
}

func runShow(ctx context.Context, w io.Writer, cl *client.Client, args []string) error {
	id, err := findChat(cl, args[0])
	if err != nil {
		return err
	}
	if err := cl.Open(ctx, id); err != nil {
		return err
	}

	sess, err := cl.Store().Get(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n\n", cliui.HeaderStyle.Render(sess.Title), cliui.DimStyle.Render(fmt.Sprintf("#%d", sess.ChatID)))
	for _, msg := range sess.Messages {
		if msg.Role == session.RoleUser {
			fmt.Fprintf(w, "%s%s\n", cliui.UserPrompt, msg.Content)
			continue
		}

		rendered, err := cliui.RenderMarkdown(msg.Content)
		if err != nil {
			rendered = msg.Content + "\n"
		}
		fmt.Fprintf(w, "%s\n%s", cliui.AssistantPrompt, rendered)
	}
	return nil
}

func runDelete(ctx context.Context, w io.Writer, cl *client.Client, args []string) error {
	id, err := findChat(cl, args[0])
	if err != nil {
		return err
	}
	if err := cl.Delete(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Deleted chat %s\n", cliui.SuccessMark, cliui.IDStyle.Render(args[0]))
	return nil
}

func findChat(cl *client.Client, arg string) (string, error) {
	chatID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || chatID <= 0 {
		return "", fmt.Errorf("invalid chat id %q", arg)
	}

	id, ok := cl.Store().FindByChatID(chatID)
	if !ok {
		return "", fmt.Errorf("chat %d not found", chatID)
	}
	return id, nil
}
