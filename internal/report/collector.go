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

package report

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

const DefaultTimeout = 15 * time.Second

// DefaultCommand produces the Bluetooth section of the system report.
var DefaultCommand = []string{"system_profiler", "SPBluetoothDataType"}

// Collector runs the external diagnostic tool. Every failure is reported as
// empty output so callers only ever see reduced coverage.
type Collector struct {
	Command []string
	Timeout time.Duration
	log     *logging.Logger

	missingOnce sync.Once
}

func NewCollector(command []string, timeout time.Duration, log *logging.Logger) *Collector {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.NewLogger("info")
	}
	return &Collector{Command: command, Timeout: timeout, log: log}
}

// Collect runs the command and returns its stdout, or "" if the command could
// not be started, exited non-zero or ran past the timeout.
func (c *Collector) Collect(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.log.Warnf("'%s' timed out after %s", strings.Join(c.Command, " "), c.Timeout)
		return ""
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		c.missingOnce.Do(func() {
			c.log.Warnf("'%s' is not installed, no diagnostic report will be read: %v", c.Command[0], err)
		})
		return ""
	}
	if err != nil {
		c.log.Debugf("'%s' failed: %v, %s", strings.Join(c.Command, " "), err, strings.TrimSpace(stderr.String()))
		return ""
	}
	c.log.Debugf("'%s' took %s", strings.Join(c.Command, " "), time.Since(start).Truncate(time.Millisecond))
	return stdout.String()
}

// CollectEntries runs the command and parses its output.
func (c *Collector) CollectEntries(ctx context.Context) map[string]Entry {
	return Parse(c.Collect(ctx))
}
