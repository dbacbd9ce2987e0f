package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	secretsService  = "civicdesk"
	apiTokenAccount = "api_token"
)

// ErrSecretNotFound is returned by a SecretStore when no value is stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore holds values that never go into the plain config file.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// FileSecrets is a SecretStore backed by a 0600 JSON file under the data dir.
type FileSecrets struct {
	Path string
}

// NewFileSecrets returns the secret store at $XDG_DATA_HOME/civicdesk/secrets.json.
func NewFileSecrets() FileSecrets {
	return FileSecrets{Path: filepath.Join(defaultDataDir(), "secrets.json")}
}

func (f FileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (f FileSecrets) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return val, nil
}

func (f FileSecrets) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, out, 0o600)
}

// GetAPIToken returns the bearer token protecting the HTTP API. The
// CIVICDESK_API_TOKEN env var wins; otherwise a token is read from the
// secret store, generating and storing one on first use.
func GetAPIToken(store SecretStore) (string, error) {
	if tok := os.Getenv("CIVICDESK_API_TOKEN"); tok != "" {
		return tok, nil
	}
	tok, err := store.Get(secretsService, apiTokenAccount)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}
	tok = uuid.NewString()
	if err := store.Set(secretsService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
