package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFieldNames(t *testing.T) {
	// Подготовка
	log := New("debug")
	buf := &bytes.Buffer{}
	log.SetOutput(buf)

	// Действие
	log.WithField("incident_id", "abc").Info("stage completed")

	// Проверки
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stage completed", entry["message"])
	assert.Contains(t, entry, "ts")
	assert.Equal(t, "abc", entry["incident_id"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log := New("chatty")

	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
