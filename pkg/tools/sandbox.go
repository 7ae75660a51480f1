package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveSandboxed maps a tool-supplied path into the workspace root.
// Absolute paths and any ".." component are rejected outright; relative
// paths resolve under root.
func resolveSandboxed(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidArguments)
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: absolute paths are not allowed", ErrUnauthorized)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: path traversal is not allowed", ErrUnauthorized)
		}
	}
	return filepath.Join(root, filepath.FromSlash(path)), nil
}
