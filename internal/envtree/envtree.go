// Package envtree loads a .env file from the current directory or any
// parent, so relay bearer tokens and OIDC client secrets don't have to
// live in the main config file.
//
// Adapted from the standalone envtree package: trimmed to the single
// walk-up-and-load path cmd/weecore needs at startup, dropping the
// custom-resolver and log-flag knobs that package exposes for a
// monorepo-wide init() hook this module doesn't have.
package envtree

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const envFileName = ".env"

// Load walks from startDir up to the filesystem root, collecting every
// .env file found (closest directory wins on key conflicts, matching
// godotenv.Load's left-to-right precedence), and loads them into the
// process environment. A startDir with no .env anywhere above it is not
// an error: most deployments configure entirely via real environment
// variables or a config file.
func Load(startDir string) error {
	files, err := collect(startDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("envtree: load %v: %w", files, err)
	}
	return nil
}

func collect(startDir string) ([]string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("envtree: resolve %q: %w", startDir, err)
	}

	var found []string
	for {
		candidate := filepath.Join(dir, envFileName)
		if _, err := os.Stat(candidate); err == nil {
			found = append(found, candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return found, nil
}
