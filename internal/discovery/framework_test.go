package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFramework(t *testing.T) {
	cases := map[string]string{
		"node /app/node_modules/.bin/vite --port 5173":     "vite",
		"node /app/node_modules/.bin/svelte-kit dev":       "sveltekit",
		"node /app/node_modules/.bin/next dev":             "next",
		"node /app/node_modules/@angular/cli/bin/ng serve": "angular",
		"python3 manage.py runserver 127.0.0.1:8000":       "django",
		"python3 -m http.server 8000":                      "static",
		"php -S 127.0.0.1:8000":                            "php",
		"ruby bin/rails server":                            "rails",
		"node server.js":                                   "",
	}
	for cmd, want := range cases {
		assert.Equal(t, want, DetectFramework(cmd), cmd)
	}
}

func TestLooksLikeDevServer(t *testing.T) {
	assert.True(t, looksLikeDevServer("npm run dev"))
	assert.True(t, looksLikeDevServer("python3 -m http.server 8000"))
	assert.True(t, looksLikeDevServer("node /app/node_modules/.bin/vite"))
	assert.False(t, looksLikeDevServer(""))
	assert.False(t, looksLikeDevServer("   "))
	assert.False(t, looksLikeDevServer("node worker.js"))
}

func TestRootAssociatorPrefersDeepestRoot(t *testing.T) {
	a := RootAssociator{Known: func() []KnownProject {
		return []KnownProject{
			{ID: "mono", Root: "/home/dev/mono"},
			{ID: "web", Root: "/home/dev/mono/apps/web"},
			{ID: "", Root: "/home/dev"},
		}
	}}
	id, root, ok := a.Associate("/home/dev/mono/apps/web/src")
	assert.True(t, ok)
	assert.Equal(t, "web", id)
	assert.Equal(t, "/home/dev/mono/apps/web", root)

	id, _, ok = a.Associate("/home/dev/mono/packages/ui")
	assert.True(t, ok)
	assert.Equal(t, "mono", id)

	_, _, ok = a.Associate("/home/dev/monolith")
	assert.False(t, ok)
	_, _, ok = RootAssociator{}.Associate("/x")
	assert.False(t, ok)
}
