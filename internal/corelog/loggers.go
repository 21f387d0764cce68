// Package corelog centralizes how every component of the runtime obtains an ldlog.Loggers
// bundle: inject one, or fall back to a disabled logger, and apply a consistent "[Component]"
// prefix the way internal/credential.Rotator and internal/filedata.ArchiveManager do in the
// teacher codebase.
package corelog

import "github.com/launchdarkly/go-sdk-common/v3/ldlog"

// WithPrefix sets the given prefix on loggers and returns it, mirroring the
// am.loggers.SetPrefix("[FileDataSource]") idiom used throughout the filedata and credential
// packages.
func WithPrefix(loggers ldlog.Loggers, prefix string) ldlog.Loggers {
	loggers.SetPrefix(prefix)
	return loggers
}

// Disabled returns a Loggers bundle that discards everything, for use as the default when a
// caller constructs a component without supplying its own loggers.
func Disabled() ldlog.Loggers {
	return ldlog.NewDisabledLoggers()
}
