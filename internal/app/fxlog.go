package app

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx/fxevent"
)

// FxEventLogger routes fx lifecycle events into zerolog
type FxEventLogger struct {
	log zerolog.Logger
}

// NewFxEventLogger creates an fx event logger writing to log
func NewFxEventLogger(log zerolog.Logger) fxevent.Logger {
	return &FxEventLogger{log: log.With().Str("component", "fx").Logger()}
}

// LogEvent logs one fx event, errors at error level and the rest at debug
func (l *FxEventLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.Started:
		l.logErr(e.Err, "fx started")
	case *fxevent.Stopped:
		l.logErr(e.Err, "fx stopped")
	case *fxevent.RollingBack:
		l.log.Warn().Err(e.StartErr).Msg("fx rolling back")
	case *fxevent.RolledBack:
		l.log.Warn().Err(e.Err).Msg("fx rolled back")
	case *fxevent.OnStartExecuted:
		l.logErr(e.Err, "fx OnStart executed", "callee", e.FunctionName)
	case *fxevent.OnStopExecuted:
		l.logErr(e.Err, "fx OnStop executed", "callee", e.FunctionName)
	case *fxevent.Provided:
		l.logErr(e.Err, "fx provided", "constructor", e.ConstructorName, "module", e.ModuleName)
	case *fxevent.Invoked:
		l.logErr(e.Err, "fx invoked", "function", e.FunctionName)
	default:
		l.log.Trace().Msgf("fx event %T", event)
	}
}

func (l *FxEventLogger) logErr(err error, msg string, kv ...string) {
	ev := l.log.Debug()
	if err != nil {
		ev = l.log.Error().Err(err)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Str(kv[i], kv[i+1])
	}
	ev.Msg(msg)
}
