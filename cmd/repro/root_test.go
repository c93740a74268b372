package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-uow/internal/scenario"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URI", "")

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func sqliteDSN(t *testing.T) string {
	return filepath.Join(t.TempDir(), "repro.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "repro", cmd.Use)

	for _, name := range []string{"timestamps", "cascade", "all"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for flag, def := range map[string]string{
		"config":    "",
		"dialect":   "sqlite",
		"cache":     "true",
		"reconcile": "suppress",
		"debug":     "false",
		"format":    "text",
	} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestAll_Text(t *testing.T) {
	out, err := execute(t, "all", "--dsn", sqliteDSN(t))
	require.NoError(t, err, out)

	assert.Contains(t, out, "== timestamps ==")
	assert.Contains(t, out, "== cascade ==")
	assert.Contains(t, out, "checks passed")
	assert.NotContains(t, out, "FAIL")
}

func TestCascade_JSONSingleMode(t *testing.T) {
	out, err := execute(t, "cascade", "--dsn", sqliteDSN(t), "--reconcile", "nullify", "--format", "json")
	require.NoError(t, err, out)

	var report scenario.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "cascade", report.Scenario)
	assert.Len(t, report.Checks, 5)
	for _, c := range report.Checks {
		assert.True(t, c.OK, c.Name)
		assert.Contains(t, c.Name, "nullify")
	}
}

func TestTimestamps_WithoutCache(t *testing.T) {
	out, err := execute(t, "timestamps", "--dsn", sqliteDSN(t), "--cache=false")
	require.NoError(t, err, out)
	assert.Contains(t, out, "cache queries false")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repro.yaml")
	content := "dialect: sqlite\ndsn: " + filepath.Join(dir, "from-file.db") + "\ncache: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := execute(t, "timestamps", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "cache queries false")
	assert.FileExists(t, filepath.Join(dir, "from-file.db"))
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"all", "--format", "xml"}},
		{"bad reconcile", []string{"cascade", "--reconcile", "sometimes"}},
		{"bad dialect", []string{"timestamps", "--dialect", "oracle"}},
		{"missing config", []string{"all", "--config", "/nonexistent/repro.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, exitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, exitCode(&ExitError{Code: ExitFailure, Message: "2 checks failed"}))
	assert.Equal(t, ExitCommandError, exitCode(assert.AnError))

	err := &ExitError{Code: ExitCommandError, Message: "open database", Err: assert.AnError}
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "open database: ")
}
