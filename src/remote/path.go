package remote

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathResolver maps wire paths from an ActionResult onto local filesystem
// paths under an execution root. It holds no state beyond its construction
// parameters and performs no I/O.
type PathResolver struct {
	// ExecRoot is the local directory that outputs are materialized under.
	ExecRoot string
	// WorkspaceName, if non-empty, is a leading path segment that some
	// servers prefix wire paths with (the "sibling repository" layout);
	// it is stripped before joining onto ExecRoot.
	WorkspaceName string
}

// Resolve maps a wire path to a local path, rejecting anything that would
// escape ExecRoot.
func (r *PathResolver) Resolve(wirePath string) (string, error) {
	p := wirePath
	if r.WorkspaceName != "" {
		if rest, ok := strings.CutPrefix(p, r.WorkspaceName+"/"); ok {
			p = rest
		}
	}
	local := filepath.Join(r.ExecRoot, p)
	rel, err := filepath.Rel(r.ExecRoot, local)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output path %q escapes execution root", wirePath)
	}
	return local, nil
}

// isAbsoluteSymlinkTarget reports whether a symlink target string is an
// absolute POSIX path; these are rejected by the planner before any I/O.
func isAbsoluteSymlinkTarget(target string) bool {
	return strings.HasPrefix(target, "/")
}
