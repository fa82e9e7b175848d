// Package project inspects a project directory and suggests how to run its
// development server.
package project

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/loykin/previewd/internal/errdefs"
)

type Type string

const (
	TypeNode    Type = "node"
	TypeDjango  Type = "django"
	TypeStatic  Type = "static"
	TypeUnknown Type = "unknown"
)

// Project is the result of Detect.
type Project struct {
	Root           string
	Type           Type
	Framework      string
	PackageManager string
	Script         string // package.json script for Node projects
	DefaultPort    int
}

type packageJSON struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// devScripts are tried in order.
var devScripts = []string{"dev", "start", "serve"}

// frameworks are matched against dependencies most specific first, so a
// SvelteKit project is not reported as plain Vite.
var frameworks = []struct {
	dep  string
	name string
	port int
}{
	{"@sveltejs/kit", "sveltekit", 5173},
	{"astro", "astro", 4321},
	{"@remix-run/dev", "remix", 3000},
	{"next", "next", 3000},
	{"nuxt", "nuxt", 3000},
	{"gatsby", "gatsby", 8000},
	{"@angular/core", "angular", 4200},
	{"react-scripts", "create-react-app", 3000},
	{"vite", "vite", 5173},
	{"vue", "vue", 8080},
}

// Detect classifies root. It fails only when root is not a readable
// directory or package.json is malformed.
func Detect(root string) (*Project, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, errdefs.WrapErr(errdefs.ErrNotFound, err, "project root %s", root)
	}
	if !st.IsDir() {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, "project root %s is not a directory", root)
	}

	data, err := os.ReadFile(filepath.Join(root, "package.json")) // #nosec G304
	switch {
	case err == nil:
		var pkg packageJSON
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, errdefs.WrapErr(errdefs.ErrConfiguration, err, "parse package.json")
		}
		if p := detectNode(root, pkg); p != nil {
			return p, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, errdefs.WrapErr(errdefs.ErrStorage, err, "read package.json")
	}

	if exists(filepath.Join(root, "manage.py")) {
		return &Project{Root: root, Type: TypeDjango, Framework: "django", DefaultPort: 8000}, nil
	}
	if exists(filepath.Join(root, "index.html")) {
		return &Project{Root: root, Type: TypeStatic, Framework: "static", DefaultPort: 8000}, nil
	}
	return &Project{Root: root, Type: TypeUnknown, DefaultPort: 8000}, nil
}

// detectNode returns nil when package.json has no runnable dev script.
func detectNode(root string, pkg packageJSON) *Project {
	var script string
	for _, s := range devScripts {
		if _, ok := pkg.Scripts[s]; ok {
			script = s
			break
		}
	}
	if script == "" {
		return nil
	}
	p := &Project{
		Root:           root,
		Type:           TypeNode,
		PackageManager: DetectPackageManager(root),
		Script:         script,
		DefaultPort:    3000,
	}
	for _, fw := range frameworks {
		_, dep := pkg.Dependencies[fw.dep]
		_, dev := pkg.DevDependencies[fw.dep]
		if dep || dev {
			p.Framework, p.DefaultPort = fw.name, fw.port
			break
		}
	}
	return p
}

// DetectPackageManager picks the package manager from lock files, npm by default.
func DetectPackageManager(dir string) string {
	lockFiles := []struct {
		file    string
		manager string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
		{"bun.lock", "bun"},
		{"package-lock.json", "npm"},
	}
	for _, lf := range lockFiles {
		if exists(filepath.Join(dir, lf.file)) {
			return lf.manager
		}
	}
	return "npm"
}

// portFlagFrameworks accept a --port flag on their dev command.
var portFlagFrameworks = map[string]bool{
	"vite": true, "sveltekit": true, "astro": true, "angular": true,
	"next": true, "nuxt": true, "gatsby": true, "remix": true,
}

// Commands returns candidate argv lists for serving the project on port,
// in preference order. Callers run the first whose executable resolves.
func (p *Project) Commands(port int) [][]string {
	ps := strconv.Itoa(port)
	switch p.Type {
	case TypeNode:
		argv := []string{p.PackageManager, "run", p.Script}
		if portFlagFrameworks[p.Framework] {
			if p.PackageManager == "npm" {
				argv = append(argv, "--")
			}
			argv = append(argv, "--port", ps)
		}
		return [][]string{argv}
	case TypeDjango:
		addr := "127.0.0.1:" + ps
		return [][]string{
			{"python3", "manage.py", "runserver", addr},
			{"python", "manage.py", "runserver", addr},
		}
	default:
		return staticServers(ps)
	}
}

func staticServers(port string) [][]string {
	return [][]string{
		{"python3", "-m", "http.server", port, "--bind", "127.0.0.1"},
		{"python", "-m", "http.server", port, "--bind", "127.0.0.1"},
		{"npx", "--yes", "serve", "-l", port},
		{"php", "-S", "127.0.0.1:" + port},
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
