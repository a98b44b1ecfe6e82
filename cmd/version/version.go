package version

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/boxsync/cmd/util"
	"github.com/sidkik/boxsync/pkg/config"
	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync/client"
	"github.com/sidkik/boxsync/pkg/version"
)

// Mocked out for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	newClient                 = func(address string) (client.Client, error) {
		return client.New(address)
	}
)

// New creates a new `version` command.
func New() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the local and remote version of boxsync.",
		Long: "Print the local version of boxsync and the version running\n" +
			"on the boxsync server.",
		Run: func(_ *cobra.Command, args []string) {
			if err := run(server); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&server, "server", "",
		"The address of the boxsync server. Defaults to the configured server.")
	return cmd
}

func run(server string) error {
	fmt.Fprintf(stdout, "local version:  %s\n", version.Version)

	if server == "" {
		userConfig, err := parseUserConfig()
		if err != nil {
			log.WithError(err).Debugf("Failed to read %s. Using the default server.",
				config.UserConfigPath)
			server = config.DefaultServer
		} else {
			server = userConfig.Server
		}
	}

	c, err := newClient(server)
	if err != nil {
		return errors.WithContext(err, "connect to boxsync server")
	}
	defer c.Close()

	remoteVersion, err := c.GetVersion()
	if err != nil {
		return errors.WithContext(err, "get remote version")
	}

	fmt.Fprintf(stdout, "server version: %s\n", remoteVersion)
	return nil
}
