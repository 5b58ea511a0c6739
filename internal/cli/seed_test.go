package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedCommand(t *testing.T) {
	schema := writeSchema(t)
	db := filepath.Join(t.TempDir(), "weave.db")

	out, err := execCLI("--format", "json", "seed", "--db", db, schema)
	require.NoError(t, err)
	data := decodeData(t, out)
	assert.Equal(t, data["compiled"], data["inserted"])
	assert.Equal(t, float64(0), data["skipped"])

	// Re-seeding the same schema inserts nothing.
	out, err = execCLI("--format", "json", "seed", "--db", db, schema)
	require.NoError(t, err)
	data = decodeData(t, out)
	assert.Equal(t, float64(0), data["inserted"])
}

func TestSeedCommand_BadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte(`model: T: {attributes: {f: {required: true}}}`), 0o644))
	db := filepath.Join(t.TempDir(), "weave.db")

	_, err := execCLI("seed", "--db", db, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateCommand(t *testing.T) {
	out, err := execCLI("validate", writeSchema(t))
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 model(s)")
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := execCLI("validate", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
