package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taskCUE = `
model: Task: {
	attributes: {
		status: {type: "Text", required: true, default: "open"}
		priority: {type: "Numeric", range: [1, 5]}
	}
	guards: [{attribute: "done", condition: "$.status == 'closed'", setValue: "true"}]
}
`

// execCLI runs the root command with the given args and captures output.
func execCLI(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeSchema drops the shared task schema into a temp file.
func writeSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task.cue")
	require.NoError(t, os.WriteFile(path, []byte(taskCUE), 0o644))
	return path
}

// decodeData unpacks the JSON envelope of a successful command.
func decodeData(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is an object")
	return data
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execCLI("--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "insert", "state", "history", "rebuild", "validate", "seed", "sync"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := execCLI("--format", "xml", "rebuild")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
