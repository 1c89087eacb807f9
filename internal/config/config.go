// Package config owns the per-user configuration directory: the
// writable overlay of the embedded base recipe, the recipe-hash side
// table, and saved jail configurations.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyrinux/jail-ai/internal/classify"
	"github.com/cyrinux/jail-ai/internal/layers"
)

// appDir is the directory name under the platform config root.
const appDir = "jail-ai"

// baseOverlayName is the user-customizable copy of the base recipe.
const baseOverlayName = "base.Containerfile"

// Dir returns (and creates) the jail-ai configuration directory under
// the platform's per-user config convention.
func Dir() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	dir := filepath.Join(root, appDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return dir, nil
}

// JailsDir returns (and creates) the directory holding saved jail
// configurations.
func JailsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	jails := filepath.Join(dir, "jails")
	if err := os.MkdirAll(jails, 0755); err != nil {
		return "", fmt.Errorf("create jails dir %s: %w", jails, err)
	}
	return jails, nil
}

// BaseRecipe returns the base recipe bytes the builder should use: the
// writable overlay if present, seeded from the embedded recipe on first
// run. The overlay's content hash is what drives base-layer rebuilds
// after user customization.
func BaseRecipe() ([]byte, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, baseOverlayName)

	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read base overlay %s: %w", path, err)
	}

	embedded, ok := layers.Recipe(classify.TagBase)
	if !ok {
		return nil, fmt.Errorf("embedded base recipe missing")
	}
	if err := os.WriteFile(path, embedded, 0644); err != nil {
		return nil, fmt.Errorf("seed base overlay %s: %w", path, err)
	}
	return embedded, nil
}

// HashTable is the optional per-recipe content-hash side table. It can
// always be re-derived from the recipe bytes; persisting it lets other
// tooling inspect the current recipe identities.
type HashTable struct {
	Recipes map[string]string `json:"recipes"`
}

// WriteHashTable derives the side table from the embedded inventory and
// persists it atomically.
func WriteHashTable() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	table := HashTable{Recipes: make(map[string]string)}
	for _, name := range layers.RecipeNames() {
		if h, ok := layers.RecipeHash(name); ok {
			table.Recipes[name] = h
		}
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hash table: %w", err)
	}

	path := filepath.Join(dir, "recipe-hashes.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write hash table: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename hash table: %w", err)
	}
	return nil
}
