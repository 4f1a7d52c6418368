package common_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mynextid/zklogin-prover/common"
)

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := common.NewLoggerTo(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "code", "nonce_mismatch")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "WARN", line["level"])
	require.Equal(t, "nonce_mismatch", line["code"])
}

func TestNewLoggerToDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := common.NewLoggerTo(&buf, "verbose", "")

	logger.Debug("dropped")
	logger.Info("kept")
	require.Contains(t, buf.String(), "msg=kept")
	require.NotContains(t, buf.String(), "dropped")
}
