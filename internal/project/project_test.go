package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/previewd/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestDetectNodeVite(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"start":"vite preview","dev":"vite"},"devDependencies":{"vite":"^5"}}`)
	write(t, dir, "pnpm-lock.yaml", "")

	p, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeNode, p.Type)
	assert.Equal(t, "dev", p.Script)
	assert.Equal(t, "pnpm", p.PackageManager)
	assert.Equal(t, "vite", p.Framework)
	assert.Equal(t, 5173, p.DefaultPort)
	assert.Equal(t, [][]string{{"pnpm", "run", "dev", "--port", "4100"}}, p.Commands(4100))
}

func TestDetectSvelteKitBeatsVite(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"dev":"vite dev"},"devDependencies":{"vite":"^5","@sveltejs/kit":"^2"}}`)
	p, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "sveltekit", p.Framework)
	assert.Equal(t, "npm", p.PackageManager)
	assert.Equal(t, [][]string{{"npm", "run", "dev", "--", "--port", "4001"}}, p.Commands(4001))
}

func TestDetectNodeWithoutPortFlag(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"serve":"node server.js"}}`)
	write(t, dir, "yarn.lock", "")
	p, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "serve", p.Script)
	assert.Equal(t, "", p.Framework)
	assert.Equal(t, [][]string{{"yarn", "run", "serve"}}, p.Commands(4002))
}

func TestDetectNodeWithoutScriptsFallsThrough(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"build":"tsc"}}`)
	write(t, dir, "index.html", "<html></html>")
	p, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeStatic, p.Type)
	cmds := p.Commands(4003)
	require.Len(t, cmds, 4)
	assert.Equal(t, "python3", cmds[0][0])
	assert.Equal(t, "php", cmds[3][0])
}

func TestDetectDjango(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "manage.py", "")
	p, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeDjango, p.Type)
	assert.Equal(t, []string{"python3", "manage.py", "runserver", "127.0.0.1:4004"}, p.Commands(4004)[0])
}

func TestDetectUnknown(t *testing.T) {
	p, err := Detect(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, TypeUnknown, p.Type)
	assert.NotEmpty(t, p.Commands(4005))
}

func TestDetectErrors(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	dir := t.TempDir()
	write(t, dir, "package.json", `{not json`)
	_, err = Detect(dir)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)

	file := filepath.Join(dir, "package.json")
	_, err = Detect(file)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestDetectPackageManager(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "npm", DetectPackageManager(dir))
	write(t, dir, "bun.lockb", "")
	assert.Equal(t, "bun", DetectPackageManager(dir))
	write(t, dir, "yarn.lock", "")
	assert.Equal(t, "yarn", DetectPackageManager(dir))
}
