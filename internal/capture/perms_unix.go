//go:build unix

package capture

import "os"

// shareDir makes a capture directory group-writable and world-readable.
func shareDir(path string) error {
	return os.Chmod(path, 0o775)
}

// shareFile makes a finished recording group-writable and world-readable.
func shareFile(path string) error {
	return os.Chmod(path, 0o664)
}
