package utils

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppDataDir(t *testing.T) {
	require.Equal(t, ".", AppDataDir("", false))
	require.Equal(t, ".", AppDataDir(".", false))

	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Setenv("HOME", "/tmp/ledgerhome")
		dir := AppDataDir(".airdrop-ledger", false)
		require.Equal(t, ".airdrop-ledger", filepath.Base(dir))
	}
}

func TestExplicitString(t *testing.T) {
	s := NewExplicitString("default")
	require.False(t, s.ExplicitlySet())
	v, err := s.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "default", v)

	require.NoError(t, s.UnmarshalFlag("custom"))
	require.True(t, s.ExplicitlySet())
	require.Equal(t, "custom", s.Value)
}
