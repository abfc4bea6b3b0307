package llmclient

import (
	"encoding/json"
	"fmt"
	"os"
)

// SecretStore is the JSON mapping provider name -> bearer token (spec.md
// §6's "LLM secret file"), mirroring the original ClearCoreAI
// `license_keys.json`. A missing secret is fatal for planning/audit but
// non-fatal for health/metrics (spec.md §4.4), so loading never panics and
// a client can be built with an empty token: the missing key only surfaces
// as an error when that client's Chat is called.
type SecretStore map[string]string

// LoadSecretStore reads the secret file at path. A missing file yields an
// empty store rather than an error, matching the original's
// "license_keys.json missing" warning-and-continue behavior.
func LoadSecretStore(path string) (SecretStore, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return SecretStore{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read LLM secret file %s: %w", path, err)
	}
	var store SecretStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("corrupt LLM secret file %s: %w", path, err)
	}
	return store, nil
}

// Token returns the bearer token for provider, or "" if absent.
func (s SecretStore) Token(provider string) string {
	return s[provider]
}
