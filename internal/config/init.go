package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by WriteDefault when the target file exists and
// overwriting was not requested.
var ErrExists = errors.New("config file already exists")

// Nested turns dotted keys into nested tables.
func Nested(flat map[string]any) map[string]any {
	root := map[string]any{}
	for key, value := range flat {
		parts := strings.Split(key, ".")
		table := root
		for _, p := range parts[:len(parts)-1] {
			next, ok := table[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				table[p] = next
			}
			table = next
		}
		table[parts[len(parts)-1]] = value
	}
	return root
}

// EncodeDefaults renders the default configuration as TOML.
func EncodeDefaults() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# refsync configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(Nested(Defaults())); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := EncodeDefaults()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
