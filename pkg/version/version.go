package version

import (
	goversion "github.com/hashicorp/go-version"

	"github.com/sidkik/boxsync/pkg/errors"
)

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. On non-release commits, it may
// include additional information such as the most recent commit hash.
var Version = EmptyValue

// CheckCompatible returns an error if a client at `clientVersion` can't sync
// with a server at `serverVersion`. Versions are compatible if they have the
// same major version. Unversioned development builds are compatible with
// everything.
func CheckCompatible(clientVersion, serverVersion string) error {
	if clientVersion == EmptyValue || serverVersion == EmptyValue {
		return nil
	}

	client, err := goversion.NewVersion(clientVersion)
	if err != nil {
		return errors.WithContext(err, "parse client version")
	}

	server, err := goversion.NewVersion(serverVersion)
	if err != nil {
		return errors.WithContext(err, "parse server version")
	}

	if client.Segments()[0] != server.Segments()[0] {
		return errors.NewFriendlyError(
			"The boxsync server is running version %s, which is incompatible "+
				"with this client (version %s).\n"+
				"Upgrade the client or server so that their major versions match.",
			server, client)
	}
	return nil
}
