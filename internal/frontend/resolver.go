// Package frontend locates the compiled single-page frontend on disk and
// serves it: static assets, the shell document for client-side routes, and
// diagnostic 404s when no build could be found.
package frontend

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ShellDocument is the SPA entry point served for client-side routes.
const ShellDocument = "index.html"

var resolvedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "pulsechat_frontend_resolved",
	Help: "1 if a frontend asset root was resolved at startup, 0 otherwise.",
})

func init() {
	prometheus.MustRegister(resolvedGauge)
}

// Check records the outcome of probing one candidate directory.
type Check struct {
	Path     string `json:"path"`
	Exists   bool   `json:"exists"`
	HasShell bool   `json:"hasShell"`
}

// Resolution is the outcome of frontend discovery. It is computed once at
// startup and must not be modified afterwards.
type Resolution struct {
	Root    string
	Found   bool
	Checks  []Check
	WorkDir string
	ExeDir  string
}

// ShellPath returns the absolute path of the shell document, or "" when no
// root was resolved.
func (r *Resolution) ShellPath() string {
	if r == nil || !r.Found {
		return ""
	}
	return filepath.Join(r.Root, ShellDocument)
}

// Resolver probes an ordered list of candidate directories.
type Resolver struct {
	// Candidates are probed in order. Relative entries are joined to WorkDir.
	Candidates []string
	WorkDir    string
	ExeDir     string
	// RequireShell rejects candidates that exist but lack index.html.
	RequireShell bool
	Logger       *zap.Logger
}

// DefaultCandidates returns the built-in search order. It covers running
// from the repository root, from the backend directory, from a directory
// holding only the build output, and from a binary installed next to (or
// one level below) the frontend build.
func DefaultCandidates(workDir, exeDir string) []string {
	c := []string{
		filepath.Join(workDir, "frontend", "dist"),
		filepath.Join(workDir, "..", "frontend", "dist"),
		filepath.Join(workDir, "dist"),
	}
	if exeDir != "" && exeDir != workDir {
		c = append(c,
			filepath.Join(exeDir, "..", "frontend", "dist"),
			filepath.Join(exeDir, "frontend", "dist"),
			filepath.Join(exeDir, "dist"),
		)
	}
	return c
}

// ExecutableDir returns the directory of the running binary with symlinks
// resolved, or "" if it cannot be determined.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// Resolve probes every candidate, logging one line per candidate, and
// selects the first acceptable one. A missing frontend is reported through
// Resolution.Found, never as an error.
func (r *Resolver) Resolve() *Resolution {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workDir := r.WorkDir
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		}
	}

	res := &Resolution{
		WorkDir: workDir,
		ExeDir:  r.ExeDir,
		Checks:  make([]Check, 0, len(r.Candidates)),
	}

	for _, candidate := range r.Candidates {
		path := candidate
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		path = filepath.Clean(path)

		check := Check{Path: path, Exists: isDir(path)}
		if check.Exists {
			check.HasShell = isFile(filepath.Join(path, ShellDocument))
		}
		res.Checks = append(res.Checks, check)

		logger.Info("frontend candidate checked",
			zap.String("path", path),
			zap.Bool("exists", check.Exists),
			zap.Bool("has_shell", check.HasShell),
		)

		if res.Found || !check.Exists {
			continue
		}
		if r.RequireShell && !check.HasShell {
			continue
		}
		res.Root = path
		res.Found = true
	}

	if res.Found {
		resolvedGauge.Set(1)
		logger.Info("frontend asset root resolved", zap.String("root", res.Root))
		if !isFile(res.ShellPath()) {
			logger.Warn("frontend asset root has no shell document",
				zap.String("root", res.Root),
				zap.String("shell", ShellDocument),
			)
		}
	} else {
		resolvedGauge.Set(0)
		logger.Warn("no frontend build found; non-API requests will get 404",
			zap.String("work_dir", workDir),
			zap.String("exe_dir", r.ExeDir),
			zap.Int("candidates", len(r.Candidates)),
		)
	}

	return res
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
