package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("not-a-level").GetLevel())
}

func TestNewServiceLogger(t *testing.T) {
	entry := NewServiceLogger("club-console", "warn")
	assert.Equal(t, "club-console", entry.Data["service"])
	assert.Equal(t, logrus.WarnLevel, entry.Logger.GetLevel())
}
