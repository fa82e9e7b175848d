//go:build linux

package discovery

// DefaultResolver reads the kernel socket tables directly and falls back
// to lsof.
func DefaultResolver() Resolver {
	return Chain{ProcNetResolver{Root: "/proc"}, LsofResolver{}}
}
