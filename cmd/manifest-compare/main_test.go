package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const before = `
kind: ConfigMap
metadata:
  name: llm
data:
  MODEL: "llama"
  TIMEOUT: "60"
`

const after = `
kind: ConfigMap
metadata:
  name: llm
data:
  MODEL: "llama"
  TIMEOUT: "90"
---
kind: ConfigMap
metadata:
  name: reranker
data:
  TOP_N: "1"
`

func TestRootCommandWritesNormalizedFiles(t *testing.T) {
	dir := t.TempDir()
	in1 := filepath.Join(dir, "manifest.yaml")
	in2 := filepath.Join(dir, "upgrade.yaml")
	out1 := filepath.Join(dir, "manifest.out")
	out2 := filepath.Join(dir, "upgrade.out")
	require.NoError(t, os.WriteFile(in1, []byte(before), 0o600))
	require.NoError(t, os.WriteFile(in2, []byte(after), 0o600))

	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--summary", in1, in2, out1, out2})
	require.NoError(t, cmd.Execute())

	got, err := os.ReadFile(out1)
	require.NoError(t, err)
	assert.Equal(t, "- llm: |\n    MODEL: llama\n    TIMEOUT: 60", string(got))

	assert.Contains(t, buf.String(), "added: reranker")
	assert.Contains(t, buf.String(), "changed: llm")
	assert.Contains(t, buf.String(), "Files processed successfully")
}

func TestRootCommandRequiresFourArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"a", "b"})
	assert.Error(t, cmd.Execute())
}

func runVersions(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"versions"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionsSubcommand(t *testing.T) {
	out, err := runVersions(t, "v1.2.0-rc1", "1.10")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"minor_upgrade","deployed_version":"v1.2.0-rc1","installing_version":"1.10"}`, out)

	out, err = runVersions(t, "1.2.3-rc1", "1.2.3")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"patch_upgrade","deployed_version":"1.2.3-rc1","installing_version":"1.2.3"}`, out)
}

func TestVersionsSubcommandReadsEnvironment(t *testing.T) {
	t.Setenv("DEPLOYED_VERSION", "2.1.0")
	t.Setenv("INSTALLING_VERSION", "2.0.5")
	out, err := runVersions(t)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"downgrade","deployed_version":"2.1.0","installing_version":"2.0.5"}`, out)
}

func TestVersionsSubcommandReportsInvalidInput(t *testing.T) {
	t.Setenv("DEPLOYED_VERSION", "")
	t.Setenv("INSTALLING_VERSION", "")
	out, err := runVersions(t)
	require.Error(t, err)
	assert.JSONEq(t, `{"error":"Missing DEPLOYED_VERSION or INSTALLING_VERSION environment variable","mode":"invalid"}`, out)

	out, err = runVersions(t, "1.0", "banana")
	require.Error(t, err)
	assert.Contains(t, out, `"mode":"invalid"`)
	assert.Contains(t, out, "Invalid version format")
}
