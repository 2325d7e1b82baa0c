package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const credentialsVersion = 1

// CredentialsFile is the on-disk store of bearer tokens, keyed by the exact
// server URL or model base URL they belong to.
type CredentialsFile struct {
	Version int                         `json:"version"`
	Servers map[string]ServerCredential `json:"servers"`
}

// ServerCredential holds the token for one endpoint.
type ServerCredential struct {
	Token string `json:"token"`
}

// LoadCredentials reads the credentials file at path. A missing file yields
// an empty store.
func LoadCredentials(path string) (*CredentialsFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &CredentialsFile{Version: credentialsVersion, Servers: map[string]ServerCredential{}}, nil
	}
	if err != nil {
		return nil, err
	}

	creds := &CredentialsFile{}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if creds.Servers == nil {
		creds.Servers = map[string]ServerCredential{}
	}
	return creds, nil
}

// SaveCredentials writes creds to path, readable by the owner only. The
// parent directory is created when missing.
func SaveCredentials(path string, creds *CredentialsFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if creds.Version == 0 {
		creds.Version = credentialsVersion
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// GetToken returns the token stored for url, or "".
func (c *CredentialsFile) GetToken(url string) string {
	return c.Servers[url].Token
}

// SetToken stores token for url.
func (c *CredentialsFile) SetToken(url, token string) {
	if c.Servers == nil {
		c.Servers = map[string]ServerCredential{}
	}
	c.Servers[url] = ServerCredential{Token: token}
}

// RemoveToken forgets the token for url.
func (c *CredentialsFile) RemoveToken(url string) {
	delete(c.Servers, url)
}
