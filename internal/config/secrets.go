package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsFilePath holds secret keys as a 0600 JSON object, apart from
// config.json.
func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

type fileSecrets struct {
	path string
}

func (f fileSecrets) Get(key string) (string, error) {
	secrets, err := readSecrets(f.path)
	if err != nil {
		return "", err
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return val, nil
}

func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Set(key, value string) error {
	secrets, err := readSecrets(f.path)
	if err != nil {
		secrets = make(map[string]string)
	}
	secrets[key] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

func applySecrets(cfg *Config, r secretReader) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, err := r.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
