package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetLoggerIsSingleton(t *testing.T) {
	assert.Same(t, GetLogger(), GetLogger())
}

func TestEntryKeepsFields(t *testing.T) {
	l := GetLogger()
	var buf bytes.Buffer
	prevOut, prevLevel := l.Out, l.GetLevel()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	defer func() {
		l.SetOutput(prevOut)
		l.SetLevel(prevLevel)
	}()

	l.WithFields(Fields{"at": "logger.test"}).
		WithField("function", 0x80).
		WithError(errors.New("boom")).
		Debug("decoded_message")

	out := buf.String()
	assert.Contains(t, out, "decoded_message")
	assert.Contains(t, out, "at=logger.test")
	assert.Contains(t, out, "function=128")
	assert.Contains(t, out, "error=boom")
}
