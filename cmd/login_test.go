package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linmx0130/nah/internal/auth"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	flagLoginToken, flagLoginRemove = "", false
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "credentials.json")
	t.Setenv(auth.EnvCredentialsFile, path)
	t.Setenv(auth.EnvAuthToken, "")
	url := "https://mcp.example.com/mcp"

	out, err := runCLI(t, "", "login", url, "--token", "from-flag")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved token for "+url)
	assert.Equal(t, "from-flag", auth.LookupToken("", url))

	out, err = runCLI(t, "typed\n", "login", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Token for "+url+": ")
	assert.Equal(t, "typed", auth.LookupToken("", url))

	_, err = runCLI(t, "\n", "login", url)
	assert.Error(t, err)

	out, err = runCLI(t, "", "login", url, "--remove")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed token for "+url)
	assert.Equal(t, "", auth.LookupToken("", url))
}
