package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidIdentifier(t *testing.T) {
	require.True(t, IsValidIdentifier("airdrop-2024-q1", 64))
	require.False(t, IsValidIdentifier("", 64))
	require.False(t, IsValidIdentifier("   ", 64))
	require.False(t, IsValidIdentifier(" padded", 64))
	require.False(t, IsValidIdentifier("toolong", 3))
}

func TestRecover(t *testing.T) {
	PanicDumpDir = t.TempDir()
	defer func() {
		PanicDumpDir = ""
	}()

	require.NotPanics(t, func() {
		defer Recover()
		panic("boom")
	})

	files, err := filepath.Glob(filepath.Join(PanicDumpDir, panicFilename+"_*"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.Contains(t, string(content), "boom")
}
