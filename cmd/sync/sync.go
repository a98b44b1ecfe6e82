package sync

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/boxsync/cmd/util"
	"github.com/sidkik/boxsync/pkg/config"
	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
	"github.com/sidkik/boxsync/pkg/sync/syncer"
)

// Mocked out for unit testing.
var (
	fs                        = afero.NewOsFs()
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	parseUserConfig           = config.ParseUser
	connect                   = syncer.Connect
)

type options struct {
	cliOpts  config.User
	mode     string
	tieBreak string
	dryRun   bool
	logFile  string
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local directory with the server",
		Long: "Sync the local directory with the user's files on the server.\n" +
			"After the initial sync, local changes are uploaded as they happen.\n" +
			"Settings default to the values in " + config.UserConfigPath + ".",
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&opts.cliOpts.Server, "server", "",
		"The address of the boxsync server.")
	cmd.Flags().StringVar(&opts.cliOpts.User, "user", "",
		"The user whose files are synced.")
	cmd.Flags().StringVar(&opts.cliOpts.Root, "root", "",
		"The local directory to sync.")
	cmd.Flags().IntVar(&opts.cliOpts.Workers, "workers", 0,
		"The number of files to transfer at once.")
	cmd.Flags().IntVar(&opts.cliOpts.ClockSamples, "clock-samples", 0,
		"The number of samples used to estimate the clock offset with the server.")
	cmd.Flags().StringVar(&opts.mode, "mode", "",
		"What to do after the initial sync: `run` or `interactive`.")
	cmd.Flags().StringVar(&opts.tieBreak, "tie-break", "",
		"Which copy wins when both have changed at the same time: `local` or `remote`.")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false,
		"Print what would be transferred, and exit.")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "",
		"Write logs to this file rather than the terminal.")
	return cmd
}

// getConfig merges the command line options into the user's config file.
func getConfig(opts options) (config.User, error) {
	cfg, err := parseUserConfig()
	if err != nil {
		return config.User{}, errors.WithContext(err, "parse user config")
	}

	cli := opts.cliOpts
	if cli.Server != "" {
		cfg.Server = cli.Server
	}
	if cli.User != "" {
		cfg.User = cli.User
	}
	if cli.Root != "" {
		cfg.Root = cli.Root
	}
	if cli.Workers != 0 {
		cfg.Workers = cli.Workers
	}
	if cli.ClockSamples != 0 {
		cfg.ClockSamples = cli.ClockSamples
	}
	if opts.mode != "" {
		cfg.Mode = config.Mode(opts.mode)
	}
	if opts.tieBreak != "" {
		cfg.TieBreak = sync.TieBreak(opts.tieBreak)
	}

	// Resolve the overridden root, and validate the overrides.
	return cfg.WithDefaults()
}

func run(opts options) error {
	cfg, err := getConfig(opts)
	if err != nil {
		return err
	}

	if opts.logFile != "" {
		logFile, err := util.SetupLogFile(opts.logFile)
		if err != nil {
			return err
		}
		defer logFile.Close()
	}

	if err := fs.MkdirAll(cfg.Root, 0755); err != nil {
		return errors.WithContext(err, "create sync directory")
	}

	log.WithFields(log.Fields{
		"server": cfg.Server,
		"user":   cfg.User,
		"root":   cfg.Root,
	}).Debug("Starting sync")

	s, err := connect(syncer.Config{
		Server:       cfg.Server,
		User:         cfg.User,
		Root:         cfg.Root,
		Workers:      cfg.Workers,
		ClockSamples: cfg.ClockSamples,
		TieBreak:     cfg.TieBreak,
	}, log.StandardLogger())
	if err != nil {
		if errors.IsTransient(err) {
			return errors.NewFriendlyError("Failed to connect to the boxsync server at %s.\n"+
				"Is `boxsync server` running?\n\n%s", cfg.Server, err)
		}
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.WithError(err).Debug("Failed to close connection")
		}
	}()

	if opts.dryRun {
		plan, err := s.Plan()
		if err != nil {
			return errors.WithContext(err, "plan")
		}
		syncer.PrintPlan(stdout, plan)
		return nil
	}

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

	report, err := s.SyncOnce(ctx)
	if err != nil {
		return errors.WithContext(err, "initial sync")
	}
	syncer.PrintReport(stdout, report)

	return watch(ctx, s, cfg.Mode)
}

func watch(ctx context.Context, s *syncer.Syncer, mode config.Mode) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	go func() {
		defer util.HandlePanic()
		watchErr <- s.Watch(ctx)
	}()

	if mode == config.ModeInteractive {
		consoleErr := make(chan error, 1)
		go func() {
			defer util.HandlePanic()
			consoleErr <- s.RunConsole(ctx, stdin, stdout)
		}()

		select {
		case err := <-consoleErr:
			return err
		case err := <-watchErr:
			if err != nil {
				return errors.WithContext(err, "watch")
			}
			return nil
		}
	}

	if err := <-watchErr; err != nil {
		return errors.WithContext(err, "watch")
	}
	return nil
}
