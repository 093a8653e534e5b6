package obslog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToInfoAndJSON(t *testing.T) {
	entry := New(DefaultOptions())
	assert.Equal(t, logrus.InfoLevel, entry.Logger.Level)
	_, ok := entry.Logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
	assert.Equal(t, "spprobe", entry.Data["service"])
}

func TestNewTextFormatAndUnknownLevelFallsBackToInfo(t *testing.T) {
	opts := Options{Level: "not-a-level", Format: "text", Service: "spprobe-test"}
	entry := New(opts)
	assert.Equal(t, logrus.InfoLevel, entry.Logger.Level)
	_, ok := entry.Logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}
