package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

const (
	// UserConfigPath is the default path to the boxsync user config.
	UserConfigPath = "~/.boxsync.yaml"

	// InitialUserConfigVersion is the first version of the boxsync user
	// config. Config files that do not specify a version will default to
	// this version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the boxsync
	// user config of the current boxsync binary.
	SupportedUserConfigVersion = "v1alpha1"

	// DefaultServer is the address of the server if none is configured.
	DefaultServer = "localhost:9001"

	// DefaultRoot is the local directory that's synced if none is
	// configured.
	DefaultRoot = "~/boxsync"

	DefaultWorkers      = 4
	DefaultClockSamples = 10
)

// Mode controls what `boxsync sync` does after the initial sync.
type Mode string

const (
	// ModeRun watches for changes until the process is interrupted.
	ModeRun Mode = "run"

	// ModeInteractive watches for changes, and reads commands from stdin.
	ModeInteractive Mode = "interactive"
)

// User contains the user's sync settings.
type User struct {
	Version string `json:"version,omitempty"`

	// Server is the host:port of the boxsync server.
	Server string `json:"server,omitempty"`

	// User is the name of the user's container on the server.
	User string `json:"user,omitempty"`

	// Root is the local directory to sync. Relative paths are resolved
	// against the home directory.
	Root string `json:"root,omitempty"`

	Workers      int           `json:"workers,omitempty"`
	Mode         Mode          `json:"mode,omitempty"`
	ClockSamples int           `json:"clockSamples,omitempty"`
	TieBreak     sync.TieBreak `json:"tieBreak,omitempty"`
}

// Mocked out for unit testing.
var (
	fs            = afero.NewOsFs()
	homedirExpand = homedir.Expand
)

// parseErrTemplate is shown when the config file isn't valid YAML, or
// contains fields of the wrong type or unknown fields. The parser's error is
// all the context we have, so it's passed on as is.
const parseErrTemplate = "Failed to parse the configuration file %q.\n" +
	"Check that every field is spelled correctly and has the right type.\n" +
	"Run `boxsync config` to regenerate it.\n\n" +
	"Parser error: %s"

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q has version %q, but this "+
		"version of boxsync only reads %q.", err.path, err.actual, err.exp)
}

// readUser reads the config file at `path`. Files without a version are
// treated as the initial version.
func readUser(path string) (User, error) {
	contents, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return User{}, errors.FileNotFound{Path: path}
	}
	if err != nil {
		return User{}, errors.WithContext(err, "read file")
	}

	// The version is checked before the strict parse so that files written
	// by other versions fail with a version error rather than an unknown
	// field.
	var versioned struct {
		Version string `json:"version"`
	}
	if err := yaml.Unmarshal(contents, &versioned); err != nil {
		return User{}, errors.NewFriendlyError(parseErrTemplate, path, err)
	}
	if versioned.Version == "" {
		versioned.Version = InitialUserConfigVersion
	}
	if versioned.Version != SupportedUserConfigVersion {
		return User{}, incompatibleVersionError{path, SupportedUserConfigVersion, versioned.Version}
	}

	user := User{Version: versioned.Version}
	if err := yaml.UnmarshalStrict(contents, &user, yaml.DisallowUnknownFields); err != nil {
		return User{}, errors.NewFriendlyError(parseErrTemplate, path, err)
	}
	return user, nil
}

// ParseUser parses the user config stored in the default path. Unset fields
// are filled in with their defaults. The defaults are used for everything
// if the file doesn't exist.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config, err := readUser(path)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return User{}, errors.WithContext(err, "parse")
		}
		config = User{Version: SupportedUserConfigVersion}
	}
	return config.WithDefaults()
}

// WithDefaults returns a copy of the config with unset fields filled in, and
// the sync root expanded to an absolute path.
func (u User) WithDefaults() (User, error) {
	home, err := homedirExpand("~")
	if err != nil {
		return User{}, errors.WithContext(err, "get home directory")
	}

	if u.Server == "" {
		u.Server = DefaultServer
	}
	if u.User == "" {
		u.User = filepath.Base(home)
	}
	if u.Root == "" {
		u.Root = DefaultRoot
	}
	if u.Workers == 0 {
		u.Workers = DefaultWorkers
	}
	if u.Mode == "" {
		u.Mode = ModeInteractive
	}
	if u.ClockSamples == 0 {
		u.ClockSamples = DefaultClockSamples
	}
	if u.TieBreak == "" {
		u.TieBreak = sync.PreferLocal
	}

	u.Root, err = homedirExpand(u.Root)
	if err != nil {
		return User{}, errors.WithContext(err, "expand root path")
	}
	if !filepath.IsAbs(u.Root) {
		u.Root = filepath.Join(home, u.Root)
	}

	if err := u.Validate(); err != nil {
		return User{}, err
	}
	return u, nil
}

// Validate returns a user-friendly error if the config is invalid.
func (u User) Validate() error {
	switch u.Mode {
	case ModeRun, ModeInteractive:
	default:
		return errors.NewFriendlyError("Unknown mode %q. "+
			"The mode must be either %q or %q.", u.Mode, ModeRun, ModeInteractive)
	}

	if u.Workers < 0 {
		return errors.NewFriendlyError("The number of workers must be positive. Got %d.", u.Workers)
	}
	if u.ClockSamples < 0 {
		return errors.NewFriendlyError("The number of clock samples must be positive. Got %d.",
			u.ClockSamples)
	}

	if _, err := sync.ParseTieBreak(string(u.TieBreak)); err != nil {
		return err
	}
	return nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user's boxsync configuration.
// This path is expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
