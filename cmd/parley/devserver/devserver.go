// Package devservercmder provides the devserver command, which runs the
// in-memory chat backend for local development.
package devservercmder

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/pkg/config"
	"github.com/papercomputeco/parley/pkg/devserver"
	"github.com/papercomputeco/parley/pkg/logger"
)

type devserverCommander struct {
	listen     string
	chunkDelay time.Duration
	users      []string
	debug      bool
}

const devserverLongDesc string = `Run an in-memory chat backend for local development.

The server speaks the same HTTP API as the production backend: login and
registration, single-shot and streaming chat, and chat history. Replies echo
the prompt one word at a time. Nothing is persisted.

Use --user to pre-create accounts as name:token pairs so that a client can
skip the login step:

  parley devserver --user alice:dev-token
  parley auth token dev-token --target http://localhost:8080`

const devserverShortDesc string = "Run an in-memory chat backend"

func NewDevserverCmd() *cobra.Command {
	cmder := &devserverCommander{}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: devserverShortDesc,
		Long:  devserverLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.DevserverFlags, []string{
				config.FlagListen,
				config.FlagChunkDelay,
			})

			cmder.listen = v.GetString("devserver.listen")
			cmder.chunkDelay = v.GetDuration("devserver.chunk_delay")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.DevserverFlags, config.FlagListen, &cmder.listen)
	config.AddDurationFlag(cmd, config.DevserverFlags, config.FlagChunkDelay, &cmder.chunkDelay)
	cmd.Flags().StringSliceVar(&cmder.users, "user", nil, "Pre-created account as name:token (repeatable)")

	return cmd
}

func (c *devserverCommander) run() error {
	log := logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	seeds, err := parseUsers(c.users)
	if err != nil {
		return err
	}

	srv := devserver.New(devserver.Config{
		ListenAddr: c.listen,
		ChunkDelay: c.chunkDelay,
	}, log)
	for name, token := range seeds {
		srv.IssueToken(name, token)
		log.Info("seeded user", "username", name)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Run()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errc:
		return err
	case <-sig:
		log.Info("shutting down devserver")
		return srv.Shutdown()
	}
}

// parseUsers parses name:token pairs.
func parseUsers(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, token, ok := strings.Cut(p, ":")
		if !ok || name == "" || token == "" {
			return nil, fmt.Errorf("invalid --user %q: want name:token", p)
		}
		out[name] = token
	}
	return out, nil
}
