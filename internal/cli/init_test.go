package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "init" {
				found = true
				break
			}
		}
		assert.True(t, found, "init command should exist")
	})

	t.Run("writes defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strata.json")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"init", "--config", path})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "quantics")
		assert.Contains(t, string(data), "gateway")
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strata.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"init", "--config", path})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("force overwrites", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strata.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"init", "--config", path, "--force"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "quantics")
	})
}
