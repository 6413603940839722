package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMask(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "true"
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func payloadJSON(asset string, barPeriod int) string {
	return fmt.Sprintf(`{
  "asset": %q,
  "start_date": 20240102,
  "end_date": 20240131,
  "bar_period": %d,
  "time_filters": {
    "months": %s,
    "daysOfWeek": %s,
    "daysOfMonth": %s
  },
  "trading_hours": {"startHour": 9, "startMin": 30, "endHour": 16, "endMin": 0}
}`, asset, barPeriod, jsonMask(12), jsonMask(5), jsonMask(31))
}

func writePayload(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	// A config path that does not exist keeps the default asset whitelist.
	missingConfig := filepath.Join(t.TempDir(), "none.json")

	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "validate" {
				found = true
				break
			}
		}
		assert.True(t, found, "validate command should exist")
	})

	t.Run("valid payload", func(t *testing.T) {
		path := writePayload(t, payloadJSON("ES", 30))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"validate", path, "--config", missingConfig})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), "Payload is valid")
		assert.Contains(t, output.String(), "ES")
	})

	t.Run("prints every violation", func(t *testing.T) {
		path := writePayload(t, payloadJSON("BTC", 0))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"validate", path, "--config", missingConfig})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		assert.Error(t, err)

		listing := output.String()
		assert.Contains(t, listing, "2 violations")
		assert.Contains(t, listing, "asset")
		assert.Contains(t, listing, "bar_period")
	})

	t.Run("missing payload file", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"validate", filepath.Join(t.TempDir(), "gone.json"), "--config", missingConfig})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		assert.Error(t, err)
	})
}
