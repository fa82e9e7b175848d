package env

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/subosito/gotenv"
)

// ProjectFiles are the .env files read from a project root, lowest
// precedence first.
var ProjectFiles = []string{".env", ".env.local", ".env.development", ".env.development.local"}

// SafeDir canonicalizes dir and verifies it lies under the user's home
// directory or the system temp directory. Symlinks are resolved on both
// sides before comparing.
func SafeDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errdefs.Wrap(errdefs.ErrValidationRejected, "empty directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errdefs.WrapErr(errdefs.ErrValidationRejected, err, "resolve %s", dir)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errdefs.WrapErr(errdefs.ErrValidationRejected, err, "resolve %s", dir)
	}
	for _, root := range safeRoots() {
		if within(resolved, root) {
			return resolved, nil
		}
	}
	return "", errdefs.Wrap(errdefs.ErrValidationRejected, "%s is outside allowed roots", resolved)
}

func safeRoots() []string {
	var roots []string
	add := func(p string) {
		if p == "" {
			return
		}
		if r, err := filepath.EvalSymlinks(p); err == nil {
			p = r
		}
		roots = append(roots, filepath.Clean(p))
	}
	if home, err := os.UserHomeDir(); err == nil {
		add(home)
	}
	add(os.TempDir())
	return roots
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// LoadProjectEnv reads the project's .env files after validating root with
// SafeDir. Missing files are skipped; a malformed file is an error.
func LoadProjectEnv(root string) (Var, error) {
	dir, err := SafeDir(root)
	if err != nil {
		return nil, err
	}
	out := make(Var)
	for _, name := range ProjectFiles {
		vars, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			out[k] = v
		}
	}
	return out, nil
}

func readFile(path string) (gotenv.Env, error) {
	f, err := os.Open(path) // #nosec G304 -- path is under a SafeDir-validated root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errdefs.WrapErr(errdefs.ErrConfiguration, err, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	vars, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrConfiguration, err, "parse %s", path)
	}
	return vars, nil
}
