//go:build windows

package discovery

// DefaultResolver uses the native TCP table.
func DefaultResolver() Resolver {
	return NetTableResolver{}
}
