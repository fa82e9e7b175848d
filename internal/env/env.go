// Package env builds dev server environments: the daemon's own environment,
// the project's .env files and the overrides previewd forces on every child.
package env

import (
	"maps"
	"slices"
	"strings"
)

// DaemonMarker is set in the environment of a daemonized previewd. It is
// never passed on to dev servers.
const DaemonMarker = "PREVIEWD_DAEMON_CHILD"

// Var maps variable names to values.
type Var map[string]string

// Compose overlays layers on base ("K=V" entries, usually os.Environ()) and
// returns sorted "K=V" entries. Later layers win. Keys listed in drop are
// removed from base only, so a layer may still set them.
func Compose(base []string, drop []string, layers ...Var) []string {
	m := Pairs(base)
	for _, k := range drop {
		delete(m, k)
	}
	for _, l := range layers {
		for k, v := range l {
			if k != "" && !strings.ContainsRune(k, '=') {
				m[k] = v
			}
		}
	}
	out := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Pairs parses "K=V" entries. Entries without a key are skipped; on
// duplicates the last one wins, as exec does.
func Pairs(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}
