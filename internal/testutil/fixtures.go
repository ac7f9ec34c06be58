// Package testutil holds filesystem fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DefaultShell is the index.html written by WriteBuild unless overridden.
const DefaultShell = `<!doctype html><html><head><title>PulseChat</title></head><body><div id="root"></div></body></html>`

type build struct {
	shell *string
	files map[string]string
}

// BuildOption customizes a fixture written by WriteBuild.
type BuildOption func(*build)

// WithShell sets the index.html content.
func WithShell(html string) BuildOption {
	return func(b *build) { b.shell = &html }
}

// WithoutShell omits index.html, modelling a half-finished build.
func WithoutShell() BuildOption {
	return func(b *build) { b.shell = nil }
}

// WithFile adds a file at rel (slash separated) below the build root.
func WithFile(rel, content string) BuildOption {
	return func(b *build) { b.files[rel] = content }
}

// WriteBuild creates a compiled-frontend directory at dir and returns dir.
// By default it holds index.html and nothing else.
func WriteBuild(t testing.TB, dir string, opts ...BuildOption) string {
	t.Helper()
	shell := DefaultShell
	b := &build{shell: &shell, files: map[string]string{}}
	for _, opt := range opts {
		opt(b)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create build dir: %v", err)
	}
	if b.shell != nil {
		writeFile(t, filepath.Join(dir, "index.html"), *b.shell)
	}
	for rel, content := range b.files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(rel)), content)
	}
	return dir
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
