package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowline/pkg/dsl"
	"github.com/stretchr/testify/require"
)

func writeDefinition(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "definition.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const ci = `
workflow:
  ref: ci
  version: "1"
  nodes:
    - ref: start
      type: start
    - ref: build
      type: async_task
      needs: [start]
      task:
        type: shell:1.0.0
    - ref: end
      type: end
      needs: [build]
`

func TestValidateFile(t *testing.T) {
	require.NoError(t, validateFile(writeDefinition(t, ci)))

	err := validateFile(writeDefinition(t, ci+"project:\n  name: ci\ntrigger:\n  cron: never\n"))
	require.ErrorIs(t, err, dsl.ErrInvalidDefinition)
}

func TestValidateCommand(t *testing.T) {
	good := writeDefinition(t, ci)
	bad := writeDefinition(t, "workflow:\n  ref: ci\n  unknown: true\n")

	command := NewValidateCommand()
	require.NoError(t, command.Run(context.Background(), []string{"validate", "-f", good}))

	command = NewValidateCommand()
	err := command.Run(context.Background(), []string{"validate", "-f", good, "-f", bad})
	require.ErrorIs(t, err, errInvalidFiles)
}
