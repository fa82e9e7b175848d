//go:build !linux && !windows

package discovery

// DefaultResolver uses lsof and falls back to the gopsutil TCP table.
func DefaultResolver() Resolver {
	return Chain{LsofResolver{}, NetTableResolver{}}
}
