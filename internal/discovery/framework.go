package discovery

import (
	"strings"

	"github.com/loykin/previewd/internal/detector"
)

// DevProcessNames is the executable allow-list for discovered processes.
// It extends the interpreter list with common dev tooling.
var DevProcessNames = append(append([]string(nil), detector.InterpreterNames...),
	"tsx", "ts-node", "nodemon", "esbuild", "webpack", "parcel", "rails", "puma",
	"uvicorn", "gunicorn", "flask", "jekyll", "zola", "air", "caddy",
)

// devKeywords mark a command line as a probable development server.
var devKeywords = []string{
	"dev", "serve", "start", "watch", "runserver", "http.server", "php -s",
	"npm", "pnpm", "yarn", "bun", "deno", "npx",
	"vite", "next", "nuxt", "astro", "webpack", "parcel", "gatsby", "remix",
	"flask", "uvicorn", "rails", "hugo", "jekyll",
}

// frameworkKeywords are tried in order; more specific tools come first so
// "svelte-kit dev" is not reported as vite.
var frameworkKeywords = []struct {
	keyword string
	name    string
}{
	{"svelte-kit", "sveltekit"},
	{"astro", "astro"},
	{"remix", "remix"},
	{"next", "next"},
	{"nuxt", "nuxt"},
	{"gatsby", "gatsby"},
	{"ng serve", "angular"},
	{"@angular", "angular"},
	{"react-scripts", "create-react-app"},
	{"vite", "vite"},
	{"webpack", "webpack"},
	{"parcel", "parcel"},
	{"manage.py runserver", "django"},
	{"uvicorn", "fastapi"},
	{"flask", "flask"},
	{"rails", "rails"},
	{"hugo", "hugo"},
	{"jekyll", "jekyll"},
	{"http.server", "static"},
	{"php -s", "php"},
}

// DetectFramework guesses the framework from a command line. It returns ""
// when nothing matches.
func DetectFramework(cmdline string) string {
	c := strings.ToLower(cmdline)
	for _, f := range frameworkKeywords {
		if strings.Contains(c, f.keyword) {
			return f.name
		}
	}
	return ""
}

func looksLikeDevServer(cmdline string) bool {
	c := strings.ToLower(strings.TrimSpace(cmdline))
	if c == "" {
		return false
	}
	for _, k := range devKeywords {
		if strings.Contains(c, k) {
			return true
		}
	}
	return false
}
