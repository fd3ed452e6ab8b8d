package scanner

import (
	"path"
	"strings"
)

// WorkerPath translates a host filesystem path into the path convention the
// worker container sees. The workspace directory on the host is mounted at
// the worker path prefix, so a working copy at
// /var/lib/deplai/repos/acme/website becomes /app/tmp/acme/website.
//
// Host paths may use either separator; the worker convention is always
// forward slashes.
func WorkerPath(hostPath, workspaceDir, prefix string) string {
	host := normalize(hostPath)
	ws := strings.TrimRight(normalize(workspaceDir), "/")
	prefix = strings.TrimRight(normalize(prefix), "/")

	if host == ws {
		return prefix
	}
	if rel, ok := strings.CutPrefix(host, ws+"/"); ok {
		return path.Join(prefix, rel)
	}

	// Path outside the workspace: keep only the last element so the worker
	// still gets a plausible mount-relative location.
	return path.Join(prefix, path.Base(host))
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	// Strip a Windows drive prefix like C:
	if len(p) >= 2 && p[1] == ':' {
		p = p[2:]
	}
	return p
}
