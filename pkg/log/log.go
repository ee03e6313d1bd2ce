// Package log provides the module's one ambient logr.Logger. Only the PGM
// layer uses it, for the handful of events worth recording there: a
// poisoned node's split-or-rebuild choice and a fill_from_beneath rebuild.
// The teacher repo hand-rolled a logr.Logger
// (pkg/log.go); here we use go-logr/stdr directly instead, since it already
// is that implementation and the teacher's reasons for not depending on it
// (predating the module's dependency on logr's stdr backend) no longer
// apply once stdr is already in go.mod for this reason alone.
package log

import (
	"os"

	stdlog "log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// New returns a named logr.Logger backed by the standard library logger,
// in the teacher's key/value style (WithName/WithValues).
func New(name string) logr.Logger {
	stdr.SetVerbosity(1)
	l := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	return l.WithName(name)
}
