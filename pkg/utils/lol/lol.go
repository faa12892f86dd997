// Package lol (log of location) is a leveled logger with a compact API,
// colored level tags and code locations on every line.
//
// The usual way to use it is through the handle packages log, chk and errorf,
// which bind the exported printers of the Main logger so call sites read as
// log.I.F(...), chk.E(err) and errorf.E(...).
package lol

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"go.uber.org/atomic"
)

// Log levels. Each level includes everything at lower numbers.
const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

// LevelNames are the canonical names of the log levels, indexed by level.
var LevelNames = []string{
	"off", "fatal", "error", "warn", "info", "debug", "trace",
}

var levelTags = []string{
	"",
	color.New(color.FgRed, color.Bold).Sprint("FTL"),
	color.New(color.FgRed).Sprint("ERR"),
	color.New(color.FgYellow).Sprint("WRN"),
	color.New(color.FgGreen).Sprint("INF"),
	color.New(color.FgBlue).Sprint("DBG"),
	color.New(color.FgMagenta).Sprint("TRC"),
}

type (
	// Ln prints a list of values space separated with a newline.
	Ln func(a ...any)
	// F prints a printf style formatted line.
	F func(format string, a ...any)
	// S pretty-prints the values with spew, for dumping structures.
	S func(a ...any)
	// C prints the result of a closure, which is only evaluated if the
	// level is enabled, for anything expensive to render.
	C func(closure func() string)
	// Chk prints an error if it is not nil and returns whether it was.
	Chk func(err error) bool
	// Err formats, prints and returns an error.
	Err func(format string, a ...any) error
)

// Printers is the set of printer functions bound to one log level.
type Printers struct {
	Ln
	F
	S
	C
	Chk
	Err
}

// Checkers carries the Chk function of each level for the chk handle
// package.
type Checkers struct {
	F, E, W, I, D, T Chk
}

// Errorfs carries the Err function of each level for the errorf handle
// package.
type Errorfs struct {
	F, E, W, I, D, T Err
}

// Logger is a complete set of level printers writing to one writer.
type Logger struct {
	// Level is the highest level that will be printed.
	Level *atomic.Int32
	// F, E, W, I, D, T are the printers for each level.
	F, E, W, I, D, T *Printers
	// Check and Errorf expose the per-level Chk and Err functions.
	Check  Checkers
	Errorf Errorfs

	mx sync.Mutex
	w  io.Writer
}

// Main is the default logger, used by the log, chk and errorf handle
// packages. It prints to stderr at Info unless told otherwise.
var Main = New(os.Stderr)

// New creates a Logger printing to the given writer.
func New(w io.Writer) (l *Logger) {
	l = &Logger{Level: atomic.NewInt32(Info), w: w}
	l.F = l.printers(Fatal)
	l.E = l.printers(Error)
	l.W = l.printers(Warn)
	l.I = l.printers(Info)
	l.D = l.printers(Debug)
	l.T = l.printers(Trace)
	l.Check = Checkers{
		F: l.F.Chk, E: l.E.Chk, W: l.W.Chk, I: l.I.Chk, D: l.D.Chk,
		T: l.T.Chk,
	}
	l.Errorf = Errorfs{
		F: l.F.Err, E: l.E.Err, W: l.W.Err, I: l.I.Err, D: l.D.Err,
		T: l.T.Err,
	}
	return
}

// GetLogLevel returns the level number for a level name, defaulting to Info
// when the name is not recognised.
func GetLogLevel(name string) (lvl int) {
	lvl = Info
	for i, v := range LevelNames {
		if v == strings.ToLower(name) {
			return i
		}
	}
	return
}

// SetLogLevel sets the level of the Main logger by name.
func SetLogLevel(name string) { Main.Level.Store(int32(GetLogLevel(name))) }

// SetLogLevel sets the logger's level by number.
func (l *Logger) SetLogLevel(lvl int) { l.Level.Store(int32(lvl)) }

// Tracer prints its arguments at Trace level on the Main logger, for marking
// entry and exit of calls.
func Tracer(a ...any) {
	if Main.Level.Load() < Trace {
		return
	}
	Main.print(Trace, 2, fmt.Sprintln(a...))
}

func (l *Logger) printers(level int32) *Printers {
	return &Printers{
		Ln: func(a ...any) {
			if l.Level.Load() < level {
				return
			}
			l.print(level, 2, fmt.Sprintln(a...))
		},
		F: func(format string, a ...any) {
			if l.Level.Load() < level {
				return
			}
			l.print(level, 2, fmt.Sprintf(format+"\n", a...))
		},
		S: func(a ...any) {
			if l.Level.Load() < level {
				return
			}
			l.print(level, 2, spew.Sdump(a...))
		},
		C: func(closure func() string) {
			if l.Level.Load() < level {
				return
			}
			l.print(level, 2, closure()+"\n")
		},
		Chk: func(err error) bool {
			if err == nil {
				return false
			}
			if l.Level.Load() >= level {
				l.print(level, 2, err.Error()+"\n")
			}
			return true
		},
		Err: func(format string, a ...any) error {
			err := fmt.Errorf(format, a...)
			if l.Level.Load() >= level {
				l.print(level, 2, err.Error()+"\n")
			}
			return err
		},
	}
}

func (l *Logger) print(level int32, skip int, s string) {
	loc := location(skip + 1)
	ts := time.Now().Format("15:04:05.000000")
	l.mx.Lock()
	defer l.mx.Unlock()
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	fmt.Fprintf(l.w, "%s %s %s%s\n", ts, levelTags[level],
		strings.TrimSuffix(s, "\n"), color.New(color.Faint).Sprint(" ", loc))
}

// location renders the caller's file:line trimmed to the last two path
// segments.
func location(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	split := strings.Split(file, "/")
	if len(split) > 2 {
		file = strings.Join(split[len(split)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}
