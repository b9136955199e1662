// Package fsguard confines caller-supplied file paths to a root directory
// and reads files under a size cap.
package fsguard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside the root.
var ErrOutsideRoot = errors.New("fsguard: path escapes root")

// ErrTooLarge is returned by ReadFile when the file exceeds the cap.
var ErrTooLarge = errors.New("fsguard: file too large")

// Resolve returns the cleaned path of p. With an empty root any path is
// accepted. Otherwise relative paths are taken from root, and the result,
// after following symlinks, must stay under root.
func Resolve(root, p string) (string, error) {
	if root == "" {
		return filepath.Clean(p), nil
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("fsguard: root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(base); err == nil {
		base = real
	}

	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)

	check := full
	if real, err := filepath.EvalSymlinks(full); err == nil {
		check = real
	}
	if !within(base, check) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

func within(base, p string) bool {
	if p == base {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(base, string(filepath.Separator))+string(filepath.Separator))
}

// ReadFile reads at most limit bytes of path. The cap is enforced on the
// bytes actually read, so a file growing after a Stat is still caught.
func ReadFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
