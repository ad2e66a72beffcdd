package log

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Verbosity levels accepted by GetLogger
const (
	Info  = iota // database and connection events
	Stage        // protocol stages
	Trace        // every result part
)

// GetLogger returns a stdr backed logr.Logger named hepsi and sets the
// global stdr verbosity to v. Anything outside Info..Trace falls back to Info.
func GetLogger(v int) logr.Logger {
	logger := stdr.New(nil).WithName("hepsi")
	if v < Info || v > Trace {
		logger.Info("Invalid verbosity, using info level", "verbosity", v)
		v = Info
	}
	stdr.SetVerbosity(v)
	return logger
}

// ContextWithLogger attaches logger to ctx. Sender and receiver operations
// fall back to it when no logger was injected with WithLogger.
func ContextWithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// Component returns the logger of the named component: the injected one
// when set, otherwise whatever ctx carries, otherwise a discarding logger.
func Component(ctx context.Context, injected *logr.Logger, name string) logr.Logger {
	logger := logr.FromContextOrDiscard(ctx)
	if injected != nil {
		logger = *injected
	}
	if name == "" {
		return logger
	}
	return logger.WithName(name)
}
