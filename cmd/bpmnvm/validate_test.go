package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/cmd"
	"github.com/dukex/bpmnvm/pkg/definition"
	"github.com/dukex/bpmnvm/pkg/expression"
	"github.com/dukex/bpmnvm/pkg/log"
)

const validDocument = `{
  "key": "approval",
  "activities": [
    {"id": "start", "type": "startEvent"},
    {"id": "approve", "type": "userTask"},
    {"id": "end", "type": "endEvent"}
  ],
  "flows": [
    {"id": "f1", "source": "start", "target": "approve"},
    {"id": "f2", "source": "approve", "target": "end"}
  ]
}`

const unknownDelegateDocument = `{
  "key": "broken",
  "activities": [
    {"id": "start", "type": "startEvent"},
    {"id": "call", "type": "serviceTask", "delegate": "does-not-exist"},
    {"id": "end", "type": "endEvent"}
  ],
  "flows": [
    {"id": "f1", "source": "start", "target": "call"},
    {"id": "f2", "source": "call", "target": "end"}
  ]
}`

func newTestCompiler(t *testing.T) *definition.Compiler {
	t.Helper()

	logger := log.Discard()

	compiler, err := definition.NewCompiler(logger, cmd.NewRegistry(logger), expression.NewEvaluator(logger, nil))
	require.NoError(t, err)

	return compiler
}

func writeDocuments(t *testing.T, documents map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	for name, content := range documents {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	return dir
}

func TestValidateDefinitions_AllValid(t *testing.T) {
	dir := writeDocuments(t, map[string]string{
		"approval.json": validDocument,
		"README.md":     "not a definition",
	})

	var out bytes.Buffer

	err := validateDefinitions(&out, newTestCompiler(t), dir)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "approval.json: VALID (key approval, 3 activities)")
	assert.Contains(t, out.String(), "Total definitions: 1")
	assert.NotContains(t, out.String(), "README.md")
}

func TestValidateDefinitions_ReportsInvalid(t *testing.T) {
	dir := writeDocuments(t, map[string]string{
		"approval.json": validDocument,
		"broken.json":   unknownDelegateDocument,
		"garbage.json":  "{",
	})

	var out bytes.Buffer

	err := validateDefinitions(&out, newTestCompiler(t), dir)
	require.ErrorIs(t, err, ErrInvalidDefinitions)

	assert.Contains(t, out.String(), "broken.json: INVALID")
	assert.Contains(t, out.String(), "garbage.json: INVALID")
	assert.Contains(t, out.String(), "Invalid definitions: 2")
}

func TestValidateDefinitions_MissingDirectory(t *testing.T) {
	err := validateDefinitions(&bytes.Buffer{}, newTestCompiler(t), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
