package discovery

import (
	"path/filepath"
	"strings"
)

// Associator maps a process working directory to a known project.
type Associator interface {
	Associate(cwd string) (projectID, root string, ok bool)
}

// KnownProject is a project root previewd already knows about.
type KnownProject struct {
	ID   string
	Root string
}

// RootAssociator matches a working directory against the roots returned by
// Known, preferring the deepest root that contains it.
type RootAssociator struct {
	Known func() []KnownProject
}

func (a RootAssociator) Associate(cwd string) (string, string, bool) {
	if a.Known == nil || cwd == "" {
		return "", "", false
	}
	cwd = filepath.Clean(cwd)
	var best KnownProject
	for _, p := range a.Known() {
		if p.ID == "" || p.Root == "" {
			continue
		}
		root := filepath.Clean(p.Root)
		if !contains(root, cwd) {
			continue
		}
		if len(root) > len(best.Root) {
			best = KnownProject{ID: p.ID, Root: root}
		}
	}
	return best.ID, best.Root, best.ID != ""
}

func contains(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
