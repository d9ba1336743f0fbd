package ulogger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLoggerRecordsLines(t *testing.T) {
	l := &TestLogger{}
	l.Infof("connected block %d", 100)
	l.Warnf("reference unavailable")

	require.Len(t, l.Lines, 2)
	assert.Equal(t, "INFO: connected block 100", l.Lines[0])
}

func TestNoopSwallowsEverything(t *testing.T) {
	var l Logger = Noop{}
	l.Debugf("x")
	l = l.With(F("height", 1))
	l.Errorf("y")
}
