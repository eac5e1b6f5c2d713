// Package datasource holds the built-in local sources: a clockmail database
// mirror, a maildir inbox and a demo generator. Each one implements
// pipeline.Source.
package datasource

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/clockmail/pkg/store"
)

const defaultDB = ".clockmail/clockmail.db"

// Discover finds the clockmail database path.
// Priority: explicit path > CLOCKMAIL_DB env var > .clockmail/clockmail.db in
// CWD or any parent.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("clockmail db %q: %w", explicit, err)
		}
		return filepath.Abs(explicit)
	}
	if env := os.Getenv("CLOCKMAIL_DB"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		return "", fmt.Errorf("CLOCKMAIL_DB=%q: %w", env, os.ErrNotExist)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, defaultDB)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no clockmail database found (looked for %s)", defaultDB)
}

// openStore discovers and opens the clockmail store.
func openStore(explicit string) (*store.Store, string, error) {
	path, err := Discover(explicit)
	if err != nil {
		return nil, "", err
	}
	s, err := store.New(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return s, path, nil
}
