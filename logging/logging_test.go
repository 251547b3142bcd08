package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput(&buf, "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("card_number", 5000400030002000).Debug("hello")
	assert.Contains(t, buf.String(), `"card_number":5000400030002000`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestNewWithOutput_TextAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput(&buf, "warn", "text")
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("chatty", "json")
	assert.Error(t, err)
}
