package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linmx0130/nah/internal/auth"
)

var (
	flagLoginToken  string
	flagLoginRemove bool
)

var loginCmd = &cobra.Command{
	Use:   "login <url>",
	Short: "Store a bearer token for a remote MCP server or model endpoint",
	Long: `login saves a bearer token in the credentials file (` + auth.EnvCredentialsFile + `
or ~/.nah/credentials.json). The token is used for the server or model whose
configured URL matches exactly and that has no authToken of its own.

Tokens can also come from the environment: ` + auth.EnvAuthToken + ` is sent to every
remote MCP server without an authToken, and ` + auth.EnvModelAuthToken + ` to the
model endpoint. An environment token wins over the credentials file.

Examples:
  # Prompt for the token
  nah login https://mcp.example.com/mcp

  # Pass it directly
  nah login https://api.example.com/v1 --token sk-...

  # Forget a stored token
  nah login https://mcp.example.com/mcp --remove`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&flagLoginToken, "token", "", "token to store (read from stdin when omitted)")
	loginCmd.Flags().BoolVar(&flagLoginRemove, "remove", false, "remove the stored token instead")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	url := args[0]
	out := cmd.OutOrStdout()
	path := auth.DefaultCredentialsPath()
	if path == "" {
		return fmt.Errorf("cannot locate credentials file; set %s", auth.EnvCredentialsFile)
	}
	creds, err := auth.LoadCredentials(path)
	if err != nil {
		return fmt.Errorf("failed to read credentials %s: %w", path, err)
	}

	if flagLoginRemove {
		creds.RemoveToken(url)
	} else {
		token := flagLoginToken
		if token == "" {
			fmt.Fprintf(out, "Token for %s: ", url)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = strings.TrimSpace(line)
		}
		if token == "" {
			return fmt.Errorf("token must not be empty")
		}
		creds.SetToken(url, token)
	}

	if err := auth.SaveCredentials(path, creds); err != nil {
		return fmt.Errorf("failed to write credentials %s: %w", path, err)
	}
	if flagLoginRemove {
		fmt.Fprintf(out, "Removed token for %s\n", url)
	} else {
		fmt.Fprintf(out, "Saved token for %s to %s\n", url, path)
	}
	return nil
}
