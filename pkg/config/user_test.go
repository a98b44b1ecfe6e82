package config

import (
	"fmt"
	"testing"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

func mockHomedir(configPath string) {
	homedirExpand = func(path string) (string, error) {
		switch {
		case path == UserConfigPath:
			return configPath, nil
		case path == "~":
			return "/home/alice", nil
		case len(path) > 1 && path[:2] == "~/":
			return "/home/alice/" + path[2:], nil
		}
		return path, nil
	}
}

func TestParseUser(t *testing.T) {
	out := "/home/alice/.boxsync.yaml"
	defaults := User{
		Version:      SupportedUserConfigVersion,
		Server:       DefaultServer,
		User:         "alice",
		Root:         "/home/alice/boxsync",
		Workers:      DefaultWorkers,
		Mode:         ModeInteractive,
		ClockSamples: DefaultClockSamples,
		TieBreak:     sync.PreferLocal,
	}

	userCorrectVersion := User{
		Version:      SupportedUserConfigVersion,
		Server:       "sync.example.com:9001",
		User:         "bob",
		Root:         "/data/sync",
		Workers:      8,
		Mode:         ModeRun,
		ClockSamples: 3,
		TieBreak:     sync.PreferRemote,
	}
	userIncorrectVersion := User{
		Version: "incorrect_version",
		Server:  "sync.example.com:9001",
	}
	userCorrectVersionString, err := yaml.Marshal(userCorrectVersion)
	assert.NoError(t, err)
	userIncorrectVersionString, err := yaml.Marshal(userIncorrectVersion)
	assert.NoError(t, err)

	relativeRoot := defaults
	relativeRoot.Root = "/home/alice/Documents/sync"

	tests := []struct {
		name      string
		input     []byte
		noFile    bool
		expConfig User
		expError  error
	}{
		{
			name:      "No config file",
			noFile:    true,
			expConfig: defaults,
		},
		{
			name:      "Empty version",
			input:     []byte("user: alice"),
			expConfig: defaults,
		},
		{
			name:      "Correct version",
			input:     userCorrectVersionString,
			expConfig: userCorrectVersion,
		},
		{
			name:      "Relative root",
			input:     []byte("root: Documents/sync"),
			expConfig: relativeRoot,
		},
		{
			name:  "Incorrect version",
			input: userIncorrectVersionString,
			expError: errors.WithContext(incompatibleVersionError{
				path:   out,
				exp:    SupportedUserConfigVersion,
				actual: userIncorrectVersion.Version,
			}, "parse"),
		},
		{
			name: "Extra fields",
			input: []byte(fmt.Sprintf(
				"version: %s\nextra: fields", SupportedUserConfigVersion)),
			expError: errors.WithContext(
				errors.NewFriendlyError(parseErrTemplate, out,
					errors.New("error unmarshaling JSON: while decoding JSON: "+
						`json: unknown field "extra"`)),
				"parse"),
		},
		{
			name:     "Bad mode",
			input:    []byte("mode: daemon"),
			expError: errors.NewFriendlyError("Unknown mode %q. "+
				"The mode must be either %q or %q.", Mode("daemon"), ModeRun, ModeInteractive),
		},
	}

	mockHomedir(out)
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			if !test.noFile {
				assert.NoError(t, afero.WriteFile(fs, out, test.input, 0644))
			}

			config, err := ParseUser()
			assert.Equal(t, test.expConfig, config)
			assert.Equal(t, test.expError, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := User{Mode: ModeRun, Workers: 2, ClockSamples: 1, TieBreak: sync.PreferRemote}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*User)
	}{
		{"Unknown mode", func(u *User) { u.Mode = "daemon" }},
		{"Negative workers", func(u *User) { u.Workers = -1 }},
		{"Negative clock samples", func(u *User) { u.ClockSamples = -1 }},
		{"Unknown tie break", func(u *User) { u.TieBreak = "newest" }},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			u := valid
			test.modify(&u)

			err := u.Validate()
			assert.Error(t, err)
			assert.IsType(t, errors.FriendlyError{}, err)
		})
	}
}

func TestParseWrittenUser(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir("/home/alice/.boxsync.yaml")

	user := User{
		Server:       "sync.example.com:9001",
		User:         "alice",
		Root:         "/srv/sync",
		Workers:      2,
		Mode:         ModeRun,
		ClockSamples: 5,
		TieBreak:     sync.PreferLocal,
	}

	// Write the user to disk, and assert that we get the same user config when
	// we parse it.
	assert.NoError(t, WriteUser(user))

	parsed, err := ParseUser()
	assert.NoError(t, err)

	user.Version = SupportedUserConfigVersion
	assert.Equal(t, user, parsed)
}
