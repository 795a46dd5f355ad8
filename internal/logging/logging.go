/*
bt-battery-monitor - Tracks battery levels of Bluetooth peripherals
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogArgs is embedded in the go-arg argument struct of each subcommand.
type LogArgs struct {
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

// Logger wraps a logrus logger so packages can keep a package level `log`
// and swap it once the log level is known.
type Logger struct {
	*logrus.Logger
}

// NewLogger returns a logger writing to stderr at the given level. An unknown
// level falls back to info.
func NewLogger(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableQuote:     true,
	})
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
		l.Warnf("Unknown log level '%s', using info", level)
	}
	l.SetLevel(lvl)
	return &Logger{Logger: l}
}

// Discard returns a logger that drops everything, used by tests.
func Discard() *Logger {
	l := NewLogger("panic")
	l.SetOutput(io.Discard)
	return l
}
