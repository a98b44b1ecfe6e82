package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/sidkik/boxsync/cmd/util"
	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync/block"
	syncServer "github.com/sidkik/boxsync/pkg/sync/server"
)

// Mocked out for unit testing.
var runServer = syncServer.Run

// New creates a new `server` command.
func New() *cobra.Command {
	var cfg syncServer.Config
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the boxsync server",
		Long: "Run the boxsync server. Each user's files are stored in a\n" +
			"directory named after the user within the server root.",
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(cfg); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&cfg.Listen, "listen", "0.0.0.0:9001",
		"The address to accept sync connections on.")
	cmd.Flags().StringVar(&cfg.Root, "root", "~/boxsync/containers",
		"The directory that contains the users' files.")
	cmd.Flags().IntVar(&cfg.BlockSize, "block-size", block.DefaultSize,
		"The number of bytes transferred in each block.")
	cmd.Flags().DurationVar(&cfg.SessionTTL, "session-ttl", 30*time.Minute,
		"How long a session may be idle before it's logged out.")
	cmd.Flags().StringVar(&cfg.MetricsAddress, "metrics-address", "",
		"The address to serve Prometheus metrics on. Metrics are disabled if empty.")
	return cmd
}

func run(cfg syncServer.Config) error {
	if cfg.BlockSize <= 0 || cfg.BlockSize > block.MaxSize {
		return errors.NewFriendlyError("The block size must be between 1 and %d bytes. Got %d.",
			block.MaxSize, cfg.BlockSize)
	}
	if cfg.SessionTTL <= 0 {
		return errors.NewFriendlyError("The session TTL must be positive. Got %s.", cfg.SessionTTL)
	}

	root, err := homedir.Expand(cfg.Root)
	if err != nil {
		return errors.WithContext(err, "expand root")
	}
	cfg.Root = root

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := runServer(ctx, cfg); err != nil {
		return errors.WithContext(err, "run sync server")
	}
	return nil
}
