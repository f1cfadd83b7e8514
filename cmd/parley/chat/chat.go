// Package chatcmder provides the chat command, a line-oriented REPL against
// a chat backend.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/cmd/parley/clientopts"
	"github.com/papercomputeco/parley/pkg/cliui"
	"github.com/papercomputeco/parley/pkg/client"
	"github.com/papercomputeco/parley/pkg/dispatch"
	"github.com/papercomputeco/parley/pkg/session"
	"github.com/papercomputeco/parley/pkg/stream"
	"github.com/papercomputeco/parley/pkg/utils"
)

type chatCommander struct {
	opts       clientopts.Options
	transcript string

	in     io.Reader
	out    io.Writer
	client *client.Client
	logger *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session against a chat backend.

Each line you type is sent as a prompt. Replies stream in as they are
generated unless --stream=false is given, in which case the full reply is
rendered as markdown once it arrives. Press Ctrl+C while a reply is
streaming to cancel it.

Commands:
  /new               Start a new chat
  /list              List chats
  /open <n|id>       Switch to a chat and load its messages
  /delete <n|id>     Delete a chat
  /model <name>      Change the model
  /stream on|off     Toggle streaming
  /help              Show this help
  /exit              Quit (Ctrl+D also works)

Examples:
  parley chat
  parley chat --model mistral --target http://localhost:8080
  parley chat --transcript session.sse`

const chatShortDesc string = "Interactive chat against a backend"

const helpText = `/new  /list  /open <n|id>  /delete <n|id>  /model <name>  /stream on|off  /exit`

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.opts.Resolve(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	clientopts.Register(cmd, &cmder.opts)
	clientopts.RegisterLogFile(cmd, &cmder.opts)
	cmd.Flags().StringVar(&cmder.transcript, "transcript", "", "Append the raw event stream of every reply to this file")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, closeLog, err := c.opts.LoggerWithFile()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	c.logger = log

	var transcript io.Writer
	if c.transcript != "" {
		f, err := os.OpenFile(c.transcript, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening transcript: %w", err)
		}
		defer f.Close()
		transcript = f
	}

	cl, err := c.opts.NewClient(c.logger, transcript)
	if err != nil {
		return err
	}
	c.client = cl
	defer func() {
		if err := cl.Close(); err != nil {
			c.logger.Warn("saving sessions", "error", err)
		}
	}()

	c.printHeader()

	if cl.Authenticated() {
		if err := cl.Refresh(ctx); err != nil {
			fmt.Fprintf(c.out, "  %s could not load history: %v\n\n", cliui.WarnStyle.Render("!"), err)
		}
	} else {
		fmt.Fprintf(c.out, "  %s Not logged in. Run \"parley auth login\" first.\n\n", cliui.WarnStyle.Render("!"))
	}

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, cliui.UserPrompt)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := c.command(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "  %s %v\n", cliui.FailMark, err)
			}
			if quit {
				break
			}
			continue
		}

		c.send(ctx, line)

		if cl.LoggedOut() {
			fmt.Fprintf(c.out, "\n  %s Session expired. Run \"parley auth login\" to continue.\n", cliui.FailMark)
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

func (c *chatCommander) printHeader() {
	mode := "streaming"
	if !c.opts.Stream {
		mode = "single-shot"
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  %s %s\n", cliui.KeyStyle.Render("Backend:"), cliui.NameStyle.Render(c.opts.Target))
	fmt.Fprintf(c.out, "  %s %s %s\n", cliui.KeyStyle.Render("Model:  "), cliui.NameStyle.Render(c.opts.Model), cliui.DimStyle.Render("("+mode+")"))
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render(helpText))
}

// command runs a slash command and reports whether the REPL should exit.
func (c *chatCommander) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return true, nil

	case "/help":
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render(helpText))

	case "/new":
		c.client.NewSession()
		fmt.Fprintf(c.out, "  %s New chat\n", cliui.SuccessMark)

	case "/list":
		c.printSessions()

	case "/open":
		id, err := c.lookup(arg)
		if err != nil {
			return false, err
		}
		if err := c.client.Open(ctx, id); err != nil {
			return false, err
		}
		c.printTranscript(id)

	case "/delete":
		id, err := c.lookup(arg)
		if err != nil {
			return false, err
		}
		if err := c.client.Delete(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "  %s Deleted\n", cliui.SuccessMark)

	case "/model":
		if arg == "" {
			fmt.Fprintf(c.out, "  %s %s\n", cliui.KeyStyle.Render("Model:"), cliui.NameStyle.Render(c.opts.Model))
			return false, nil
		}
		c.opts.Model = arg
		fmt.Fprintf(c.out, "  %s Model set to %s\n", cliui.SuccessMark, cliui.NameStyle.Render(arg))

	case "/stream":
		switch arg {
		case "on":
			c.opts.Stream = true
		case "off":
			c.opts.Stream = false
		default:
			return false, errors.New("usage: /stream on|off")
		}
		fmt.Fprintf(c.out, "  %s Streaming %s\n", cliui.SuccessMark, arg)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}

	return false, nil
}

// send dispatches one prompt. Streamed replies are printed as they grow;
// single-shot replies are rendered as markdown.
func (c *chatCommander) send(ctx context.Context, prompt string) {
	store := c.client.Store()

	id := store.ActiveID()
	if id == "" {
		id = c.client.NewSession()
	}
	sess, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(c.out, "  %s %v\n", cliui.FailMark, err)
		return
	}
	// user message, then the reply
	replyIndex := len(sess.Messages) + 1

	sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	req := dispatch.Request{
		SessionID: id,
		Prompt:    prompt,
		Model:     c.opts.Model,
		Streaming: c.opts.Stream,
	}

	var out *dispatch.Outcome
	if c.opts.Stream {
		fmt.Fprint(c.out, cliui.AssistantPrompt)
		f := follow(store, id, replyIndex, c.out)
		out, err = c.client.Send(sendCtx, req)
		f.stop()
		fmt.Fprintln(c.out)
	} else {
		err = cliui.Step(c.out, "Waiting for reply", func() error {
			var sendErr error
			out, sendErr = c.client.Send(sendCtx, req)
			return sendErr
		})
		if err == nil && out.Err == nil {
			c.printReply(id, replyIndex)
		}
	}

	switch {
	case err != nil:
		fmt.Fprintf(c.out, "  %s %v\n", cliui.FailMark, err)
	case out.Streamed && out.State == stream.StateClosedTimeout:
		fmt.Fprintf(c.out, "  %s reply stopped: no data for %s\n", cliui.WarnStyle.Render("!"), cliui.FormatDuration(c.opts.IdleTimeout))
	case out.Err != nil:
		fmt.Fprintf(c.out, "  %s %v\n", cliui.FailMark, out.Err)
	}
	fmt.Fprintln(c.out)
}

func (c *chatCommander) printReply(id string, index int) {
	sess, err := c.client.Store().Get(id)
	if err != nil || index >= len(sess.Messages) {
		return
	}

	rendered, err := cliui.RenderMarkdown(sess.Messages[index].Content)
	if err != nil {
		rendered = sess.Messages[index].Content + "\n"
	}
	fmt.Fprintf(c.out, "%s\n%s", cliui.AssistantPrompt, rendered)
}

func (c *chatCommander) printSessions() {
	list := c.client.Store().List()
	if len(list) == 0 {
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("No chats yet."))
		return
	}

	active := c.client.Store().ActiveID()
	for i, sess := range list {
		marker := " "
		if sess.ID == active {
			marker = "*"
		}
		chat := cliui.DimStyle.Render("local")
		if sess.Bound() {
			chat = cliui.IDStyle.Render(fmt.Sprintf("#%d", sess.ChatID))
		}
		fmt.Fprintf(c.out, "  %s %2d  %s  %s  %s\n",
			marker,
			i+1,
			cliui.DimStyle.Render(utils.TruncateRunes(sess.ID, 8)),
			chat,
			sess.Title,
		)
	}
}

func (c *chatCommander) printTranscript(id string) {
	sess, err := c.client.Store().Get(id)
	if err != nil {
		return
	}

	fmt.Fprintf(c.out, "  %s %s\n\n", cliui.SuccessMark, cliui.HeaderStyle.Render(sess.Title))
	for _, msg := range sess.Messages {
		prompt := cliui.UserPrompt
		if msg.Role == session.RoleAssistant {
			prompt = cliui.AssistantPrompt
		}
		fmt.Fprintf(c.out, "%s%s\n", prompt, msg.Content)
	}
}

// lookup resolves a 1-based list position or a session id prefix.
func (c *chatCommander) lookup(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("which chat? pass a number from /list or an id")
	}

	list := c.client.Store().List()

	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(list) {
			return "", fmt.Errorf("no chat number %d", n)
		}
		return list[n-1].ID, nil
	}

	var match string
	for _, sess := range list {
		if strings.HasPrefix(sess.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("%q matches more than one chat", arg)
			}
			match = sess.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no chat matches %q", arg)
	}
	return match, nil
}
