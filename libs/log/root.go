package log

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var (
	root                 = &logger{[]interface{}{}, new(swapHandler)}
	base          Logger = root
	StdoutHandler        = StreamHandler(os.Stdout, LogfmtFormat())
	StderrHandler        = StreamHandler(os.Stderr, LogfmtFormat())
)

func init() {
	root.SetHandler(StdoutHandler)
}

// TerminalHandler writes colored terminal output to stdout when it is a
// terminal, and logfmt otherwise.
func TerminalHandler() Handler {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return StreamHandler(colorable.NewColorableStdout(), TerminalFormat(true))
	}
	return StdoutHandler
}

// New returns a new logger with the given context.
// New is a convenient alias for Root().With
func New(ctx ...interface{}) Logger {
	return base.With(ctx...)
}

// Root returns the root logger
func Root() Logger {
	return root
}

// The following functions bypass the exported logger methods (logger.Debug,
// etc.) to keep the call depth the same for all paths to logger.write so
// runtime.Caller(2) always refers to the call site in client code.

// Trace is a convenient alias for Root().Trace
func Trace(msg string, ctx ...interface{}) {
	root.write(msg, LvlTrace, ctx, skipLevel)
}

// Debug is a convenient alias for Root().Debug
func Debug(msg string, ctx ...interface{}) {
	root.write(msg, LvlDebug, ctx, skipLevel)
}

// Info is a convenient alias for Root().Info
func Info(msg string, ctx ...interface{}) {
	root.write(msg, LvlInfo, ctx, skipLevel)
}

// Warn is a convenient alias for Root().Warn
func Warn(msg string, ctx ...interface{}) {
	root.write(msg, LvlWarn, ctx, skipLevel)
}

// Error is a convenient alias for Root().Error
func Error(msg string, ctx ...interface{}) {
	root.write(msg, LvlError, ctx, skipLevel)
}

// Crit is a convenient alias for Root().Crit
func Crit(msg string, ctx ...interface{}) {
	root.write(msg, LvlCrit, ctx, skipLevel)
}
