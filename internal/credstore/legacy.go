package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// MigrateFromLegacy imports the auth token from a plaintext settings
// file written by older releases and strips it from that file, leaving
// every other setting in place. The import happens at most once: a
// store that already holds a token never overwrites it. Returns true
// when a token was imported.
func (s *Store) MigrateFromLegacy(ctx context.Context, path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading legacy settings: %w", err)
	}

	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		return false, fmt.Errorf("parsing legacy settings: %w", err)
	}

	token, _ := settings["authToken"].(string)
	if token == "" {
		return false, nil
	}

	existing, err := s.Token(ctx)
	if err != nil {
		return false, err
	}
	if existing != "" {
		return false, nil
	}

	gateway, _ := settings["gatewayUrl"].(string)
	session, _ := settings["sessionKey"].(string)
	if err := s.StoreToken(ctx, token, gateway, session); err != nil {
		return false, fmt.Errorf("importing legacy token: %w", err)
	}

	// strip the secret but keep the rest of the settings readable by
	// the old code paths
	delete(settings, "authToken")
	stripped, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding stripped settings: %w", err)
	}
	if err := os.WriteFile(path, stripped, 0o600); err != nil {
		return false, fmt.Errorf("rewriting legacy settings: %w", err)
	}

	s.log.Info(ctx, "imported auth token from legacy settings file", "path", path)
	return true, nil
}
