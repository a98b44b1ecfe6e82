package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/boxsync/cmd/util"
	"github.com/sidkik/boxsync/pkg/config"
	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	guessDefaults             = guessDefaultsImpl
	parseUserConfig           = config.ParseUser
	writeUserConfig           = config.WriteUser
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.User
	var mode, tieBreak string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the boxsync user configuration",
		Run: func(_ *cobra.Command, _ []string) {
			cliOpts.Mode = config.Mode(mode)
			cliOpts.TieBreak = sync.TieBreak(tieBreak)
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Server, "server", "",
		"Set the server address in the config. "+
			"Optional: If not set, `boxsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.User, "user", "",
		"Set the user name in the config. "+
			"Optional: If not set, `boxsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.Root, "root", "",
		"Set the local directory to sync. "+
			"Optional: If not set, `boxsync config` will interactively prompt.")
	cmd.Flags().IntVar(&cliOpts.Workers, "workers", 0,
		"The number of files to transfer at once.")
	cmd.Flags().IntVar(&cliOpts.ClockSamples, "clock-samples", 0,
		"The number of samples used to estimate the clock offset with the server.")
	cmd.Flags().StringVar(&mode, "mode", "",
		"What to do after the initial sync: `run` or `interactive`.")
	cmd.Flags().StringVar(&tieBreak, "tie-break", "",
		"Which copy wins when both have changed at the same time: `local` or `remote`.")

	// Setup the commands for querying the contents of the user config.
	type getterSpec struct {
		use, short string
		fn         func(config.User) string
	}

	getters := []getterSpec{
		{
			use:   "get-server",
			short: "Get the currently configured server address",
			fn:    func(cfg config.User) string { return cfg.Server },
		},
		{
			use:   "get-user",
			short: "Get the currently configured user name",
			fn:    func(cfg config.User) string { return cfg.User },
		},
		{
			use:   "get-root",
			short: "Get the currently configured sync directory",
			fn:    func(cfg config.User) string { return cfg.Root },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseUserConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig prompts for any settings that weren't specified in `cliOpts`,
// and writes the resulting config.
func SetupConfig(cliOpts config.User) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if _, err := cfg.WithDefaults(); err != nil {
		return err
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func serverValidationFn(server string) (string, bool) {
	if _, port, err := net.SplitHostPort(server); err != nil || port == "" {
		return "The server address must include a port, such as localhost:9001.", false
	}
	return "", true
}

func userValidationFn(user string) (string, bool) {
	if user == "" || strings.ContainsAny(user, `/\`) || sync.IsIgnored(user) {
		return "The user name must not be empty, contain slashes, " +
			"or start with `.` or `~`. Please pick another name.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
// It makes best guesses at reasonable defaults, and allows users to explicitly
// override them if desired.
func generateConfig(cliOpts config.User) (config.User, error) {
	defaults := guessDefaults()
	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	// Settings that aren't prompted for keep their current values unless
	// they're overridden on the command line.
	cfg := cliOpts
	if cfg.Workers == 0 {
		cfg.Workers = currConfig.Workers
	}
	if cfg.ClockSamples == 0 {
		cfg.ClockSamples = currConfig.ClockSamples
	}
	if cfg.Mode == "" {
		cfg.Mode = currConfig.Mode
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = currConfig.TieBreak
	}

	var prompts []prompt
	if cliOpts.Server == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the address of the boxsync server.\n" +
				"It should include the port that the server listens on.",
			prompt:        "Server address",
			defaultAnswer: defaults.Server,
			currAnswer:    currConfig.Server,
			field:         &cfg.Server,
			validationFn:  serverValidationFn,
		})
	}

	if cliOpts.User == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter your user name.\n" +
				"Your files are stored in a directory with this name on the server.",
			prompt:        "User name",
			defaultAnswer: defaults.User,
			currAnswer:    currConfig.User,
			field:         &cfg.User,
			validationFn:  userValidationFn,
		})
	}

	if cliOpts.Root == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the path to the local directory to sync.\n" +
				"Relative paths are relative to your home directory.",
			prompt:        "Sync directory",
			defaultAnswer: defaults.Root,
			currAnswer:    currConfig.Root,
			field:         &cfg.Root,
		})
	}

	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.User{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	return cfg, nil
}

// guessDefaults tries to guess reasonable defaults for the fields in the user
// config.
func guessDefaultsImpl() config.User {
	cfg, err := config.User{}.WithDefaults()
	if err != nil {
		log.WithError(err).Info("Failed to guess defaults")
		return config.User{Server: config.DefaultServer, Root: config.DefaultRoot}
	}
	return cfg
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\n"), nil
}
