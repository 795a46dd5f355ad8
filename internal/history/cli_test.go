package history

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/logging"
)

func TestPrintHistory(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(DefaultOptions(), nil, logging.Discard())
	e.Record("mouse", 80, now.Add(-3*time.Hour))
	e.Record("mouse", 77, now)

	var buf bytes.Buffer
	printHistory(&buf, e, []string{"mouse"}, true, now)
	out := buf.String()

	assert.Contains(t, out, "mouse: 2 reading(s), 77% at ")
	assert.Contains(t, out, "drain: 1.00 hours per percent")
	assert.Contains(t, out, "estimate: ~3d 5h remaining")
	assert.Contains(t, out, "  80%")
}

func TestPrintHistoryEmpty(t *testing.T) {
	e := New(DefaultOptions(), nil, logging.Discard())
	var buf bytes.Buffer
	printHistory(&buf, e, nil, false, time.Now())
	assert.Equal(t, "No battery history.\n", buf.String())
}
