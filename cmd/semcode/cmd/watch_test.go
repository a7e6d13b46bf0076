package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCmd_RequiresExistingIndex(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"watch", testDir})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestWatchCmd_ReconcilesAndWatchesUntilCancelled(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	indexCmd := NewRootCmd()
	indexCmd.SetOut(new(bytes.Buffer))
	indexCmd.SetErr(new(bytes.Buffer))
	indexCmd.SetArgs([]string{"index", testDir})
	require.NoError(t, indexCmd.Execute())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"watch", testDir})

	err := cmd.ExecuteContext(ctx)

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(testDir, ".semcode", "metadata.db"))
}
