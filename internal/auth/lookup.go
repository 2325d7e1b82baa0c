package auth

import (
	"os"
	"path/filepath"
)

// Environment variables consulted by LookupToken and LookupModelToken.
const (
	EnvCredentialsFile = "NAH_CREDENTIALS_FILE"
	// EnvAuthToken applies to every remote MCP server without an authToken.
	EnvAuthToken = "NAH_AUTH_TOKEN"
	// EnvModelAuthToken applies to the model endpoint only.
	EnvModelAuthToken = "NAH_MODEL_AUTH_TOKEN"
)

// DefaultCredentialsPath returns $NAH_CREDENTIALS_FILE or
// ~/.nah/credentials.json.
func DefaultCredentialsPath() string {
	if p := os.Getenv(EnvCredentialsFile); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nah", "credentials.json")
}

// LookupToken resolves a bearer token for the MCP server at url, in order:
//  1. configured, if non-empty
//  2. $NAH_AUTH_TOKEN
//  3. the credentials file entry for url
//
// It returns "" when nothing is found.
func LookupToken(configured, url string) string {
	return lookup(configured, EnvAuthToken, url)
}

// LookupModelToken is LookupToken for the model endpoint. It reads
// $NAH_MODEL_AUTH_TOKEN instead of $NAH_AUTH_TOKEN, so server tokens are
// never sent to the model provider.
func LookupModelToken(configured, url string) string {
	return lookup(configured, EnvModelAuthToken, url)
}

func lookup(configured, env, url string) string {
	if configured != "" {
		return configured
	}
	if t := os.Getenv(env); t != "" {
		return t
	}
	path := DefaultCredentialsPath()
	if path == "" {
		return ""
	}
	creds, err := LoadCredentials(path)
	if err != nil {
		return ""
	}
	return creds.GetToken(url)
}
