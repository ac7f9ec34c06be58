package frontend

import (
	"encoding/json"
	"net/http"
	"os"
	"path"
	"strings"
)

// Response bodies clients and tests rely on.
const (
	MessageShellMissing = "Frontend not found"
	MessageNoBuild      = "Frontend build not found"
	MessageNotFound     = "Not found"
)

// StaticHandler serves files under the resolved root and falls back to the
// shell document for every other path so the client router can take over.
// If the shell document is missing it answers 404 with a plain-text body;
// the root itself stays valid for asset requests.
func StaticHandler(res *Resolution) http.Handler {
	root := http.Dir(res.Root)
	files := http.FileServer(root)
	shell := res.ShellPath()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		// The shell is always served through serveShell so /index.html
		// answers 200 instead of FileServer's redirect to "./".
		if !strings.HasSuffix(r.URL.Path, "/"+ShellDocument) && hasFile(root, r.URL.Path) {
			files.ServeHTTP(w, r)
			return
		}

		serveShell(w, r, shell)
	})
}

// hasFile reports whether name is a regular file inside root. Paths with a
// dot-prefixed segment (/.env, /.git/config) are treated as absent.
// http.Dir rejects paths that escape the root.
func hasFile(root http.Dir, name string) bool {
	name = path.Clean("/" + name)
	if hasDotSegment(name) {
		return false
	}
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

func hasDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func serveShell(w http.ResponseWriter, r *http.Request, shell string) {
	f, err := os.Open(shell)
	if err != nil {
		http.Error(w, MessageShellMissing, http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, MessageShellMissing, http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, ShellDocument, info.ModTime(), f)
}

// diagnostics is the 404 body returned when no frontend build was found.
type diagnostics struct {
	Message string  `json:"message"`
	WorkDir string  `json:"workDir,omitempty"`
	ExeDir  string  `json:"exeDir,omitempty"`
	Checked []Check `json:"checked,omitempty"`
}

// DiagnosticsHandler answers every request with 404. When verbose is set the
// body lists each checked candidate and the directories used to resolve
// them, which is how a silently failed build step gets diagnosed remotely.
// The server passes frontend.diagnostics (PULSECHAT_FRONTEND_DIAGNOSTICS)
// as verbose; it defaults to off so filesystem paths stay private.
func DiagnosticsHandler(res *Resolution, verbose bool) http.Handler {
	body := diagnostics{Message: MessageNoBuild}
	if verbose && res != nil {
		body.WorkDir = res.WorkDir
		body.ExeDir = res.ExeDir
		body.Checked = append([]Check(nil), res.Checks...)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, body)
	})
}

// DevHandler is the catch-all outside production. Assets are served by the
// frontend dev server, so anything reaching here is simply not found.
func DevHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, MessageNotFound)
	})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
