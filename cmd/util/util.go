package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
)

// Mocked out for unit testing.
var (
	fs                        = afero.NewOsFs()
	stderr          io.Writer = os.Stderr
	exit                      = os.Exit
	setLogOutput              = log.SetOutput
	setLogFormatter           = log.SetFormatter
)

// HandleFatalError prints the given error and exits. Friendly errors are
// printed as is, and other errors are printed with their full context.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs the stack of a panicking goroutine before letting the
// panic continue. It should be deferred at the top of every goroutine.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
		panic(r)
	}
}

// SetupLogFile redirects the standard logger to the file at `path`. The
// returned closer should be closed once logging is finished.
func SetupLogFile(path string) (io.Closer, error) {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open log file")
	}

	setLogFormatter(&log.TextFormatter{
		// Show the full timestamp so that logs can be correlated with the
		// server's.
		FullTimestamp: true,

		// Disable colors since we're logging to a file.
		DisableColors: true,
	})
	setLogOutput(f)
	return f, nil
}
