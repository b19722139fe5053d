package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ResolveBinary turns a configured binary into an absolute path. Bare names
// are searched on PATH; anything containing a separator must exist as given.
func ResolveBinary(name string) (string, error) {
	if name == "" {
		return "", errors.New("binary name is empty")
	}

	if filepath.Base(name) != name {
		info, err := os.Stat(name)
		if err != nil {
			return "", fmt.Errorf("binary %s: %w", name, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("binary %s is a directory", name)
		}
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", fmt.Errorf("binary %s: %w", name, err)
		}
		return abs, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %s not found on PATH: %w", name, err)
	}
	return path, nil
}
